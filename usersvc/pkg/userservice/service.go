package userservice

import (
	"context"
	"errors"

	"github.com/go-kit/kit/log"
	"github.com/ichigozero/tasktracker/usersvc"
	"golang.org/x/crypto/bcrypt"
)

type Service interface {
	Register(ctx context.Context, username, password string) (usersvc.User, error)
	UserID(ctx context.Context, username, password string) (uint64, error)
	IsExists(ctx context.Context, id uint64, username string) (bool, error)
}

func New(u usersvc.UserRepository, cost int, logger log.Logger) Service {
	var svc Service
	{
		svc = NewBasicService(u, cost)
		svc = LoggingMiddleware(logger)(svc)
	}
	return svc
}

type basicService struct {
	users usersvc.UserRepository
	cost  int
}

// NewBasicService hashes passwords with the given bcrypt cost; out of range
// values fall back to bcrypt.DefaultCost.
func NewBasicService(u usersvc.UserRepository, cost int) Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return basicService{users: u, cost: cost}
}

func (s basicService) Register(ctx context.Context, username, password string) (usersvc.User, error) {
	if username == "" || password == "" {
		return usersvc.User{}, usersvc.ErrInvalidArgument
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return usersvc.User{}, err
	}

	return s.users.Create(ctx, username, string(hash))
}

// UserID verifies the credentials. An unknown name and a wrong password both
// yield ErrUserNotFound.
func (s basicService) UserID(ctx context.Context, username, password string) (uint64, error) {
	if username == "" || password == "" {
		return 0, usersvc.ErrInvalidArgument
	}

	user, err := s.users.FindByName(ctx, username)
	if err != nil {
		return 0, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return 0, usersvc.ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}

	return user.ID, nil
}

func (s basicService) IsExists(ctx context.Context, id uint64, username string) (bool, error) {
	if id == 0 {
		return false, usersvc.ErrInvalidArgument
	}

	user, err := s.users.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if user.Username != username {
		return false, usersvc.ErrUserNotFound
	}

	return true, nil
}
