package usersvc

import (
	"context"
	"errors"
)

type User struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Password string `gorm:"not null" json:"-"`
}

type UserRepository interface {
	Create(ctx context.Context, username, passwordHash string) (User, error)
	FindByName(ctx context.Context, username string) (User, error)
	Find(ctx context.Context, id uint64) (User, error)
}

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameTaken   = errors.New("username already exists")
)
