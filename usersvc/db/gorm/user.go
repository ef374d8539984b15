package gorm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ichigozero/tasktracker/usersvc"
	"github.com/jackc/pgconn"
	"github.com/mattn/go-sqlite3"
	libgorm "gorm.io/gorm"
)

type userRepository struct {
	db *libgorm.DB
}

func NewUserRepository(db *libgorm.DB) usersvc.UserRepository {
	return &userRepository{db}
}

// Create inserts a user unless the name is taken. A concurrent insert of the
// same name trips the unique index and is reported the same way.
func (u *userRepository) Create(ctx context.Context, username, passwordHash string) (usersvc.User, error) {
	user := usersvc.User{Username: username, Password: passwordHash}

	err := u.db.WithContext(ctx).Transaction(func(tx *libgorm.DB) error {
		var count int64
		if err := tx.Model(&usersvc.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return usersvc.ErrUsernameTaken
		}
		return tx.Create(&user).Error
	})
	if errors.Is(err, usersvc.ErrUsernameTaken) {
		return usersvc.User{}, err
	}
	if isUniqueViolation(err) {
		return usersvc.User{}, usersvc.ErrUsernameTaken
	}
	if err != nil {
		return usersvc.User{}, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func (u *userRepository) FindByName(ctx context.Context, username string) (usersvc.User, error) {
	var user usersvc.User
	result := u.db.WithContext(ctx).Where("username = ?", username).First(&user)

	return user, translate(result.Error)
}

func (u *userRepository) Find(ctx context.Context, id uint64) (usersvc.User, error) {
	var user usersvc.User
	result := u.db.WithContext(ctx).First(&user, id)

	return user, translate(result.Error)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, libgorm.ErrRecordNotFound):
		return usersvc.ErrUserNotFound
	default:
		return fmt.Errorf("find user: %w", err)
	}
}

// isUniqueViolation reports whether err is a unique constraint failure from
// postgres or sqlite.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
