package userservice

import (
	"context"
	"testing"

	"github.com/ichigozero/tasktracker/usersvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memRepository struct {
	byName map[string]usersvc.User
}

func newMemRepository() *memRepository {
	return &memRepository{byName: map[string]usersvc.User{}}
}

func (r *memRepository) Create(_ context.Context, username, passwordHash string) (usersvc.User, error) {
	if _, ok := r.byName[username]; ok {
		return usersvc.User{}, usersvc.ErrUsernameTaken
	}
	u := usersvc.User{ID: uint64(len(r.byName) + 1), Username: username, Password: passwordHash}
	r.byName[username] = u
	return u, nil
}

func (r *memRepository) FindByName(_ context.Context, username string) (usersvc.User, error) {
	u, ok := r.byName[username]
	if !ok {
		return usersvc.User{}, usersvc.ErrUserNotFound
	}
	return u, nil
}

func (r *memRepository) Find(_ context.Context, id uint64) (usersvc.User, error) {
	for _, u := range r.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return usersvc.User{}, usersvc.ErrUserNotFound
}

func TestRegisterHashesPassword(t *testing.T) {
	repo := newMemRepository()
	svc := NewBasicService(repo, bcrypt.MinCost)

	u, err := svc.Register(context.Background(), "alice", "Secret123")
	require.NoError(t, err)

	assert.NotEqual(t, "Secret123", u.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("Secret123")))

	_, err = svc.Register(context.Background(), "alice", "Other1234")
	assert.ErrorIs(t, err, usersvc.ErrUsernameTaken)

	_, err = svc.Register(context.Background(), "", "Secret123")
	assert.ErrorIs(t, err, usersvc.ErrInvalidArgument)
}

func TestUserID(t *testing.T) {
	svc := NewBasicService(newMemRepository(), bcrypt.MinCost)

	u, err := svc.Register(context.Background(), "alice", "Secret123")
	require.NoError(t, err)

	id, err := svc.UserID(context.Background(), "alice", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, err = svc.UserID(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, usersvc.ErrUserNotFound)

	_, err = svc.UserID(context.Background(), "bob", "Secret123")
	assert.ErrorIs(t, err, usersvc.ErrUserNotFound)
}

func TestIsExists(t *testing.T) {
	svc := NewBasicService(newMemRepository(), bcrypt.MinCost)

	u, err := svc.Register(context.Background(), "alice", "Secret123")
	require.NoError(t, err)

	ok, err := svc.IsExists(context.Background(), u.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.IsExists(context.Background(), u.ID, "mallory")
	assert.ErrorIs(t, err, usersvc.ErrUserNotFound)

	_, err = svc.IsExists(context.Background(), 99, "alice")
	assert.ErrorIs(t, err, usersvc.ErrUserNotFound)
}
