package authservice

import (
	"context"
	"errors"

	"github.com/go-kit/kit/log"
	"github.com/ichigozero/tasktracker/authsvc"
	"github.com/ichigozero/tasktracker/usersvc"
	"github.com/ichigozero/tasktracker/usersvc/pkg/userservice"
)

type Service interface {
	SignUp(ctx context.Context, username, password string) error
	SignIn(ctx context.Context, username, password string) (string, error)
}

func New(t Tokenizer, u userservice.Service, logger log.Logger) Service {
	var svc Service
	{
		svc = NewBasicService(t, u)
		svc = LoggingMiddleware(logger)(svc)
	}
	return svc
}

type basicService struct {
	tokenizer Tokenizer
	users     userservice.Service
}

func NewBasicService(t Tokenizer, u userservice.Service) Service {
	return &basicService{tokenizer: t, users: u}
}

func (s *basicService) SignUp(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return authsvc.ErrInvalidArgument
	}

	_, err := s.users.Register(ctx, username, password)
	return err
}

func (s *basicService) SignIn(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", authsvc.ErrInvalidArgument
	}

	userID, err := s.users.UserID(ctx, username, password)
	if errors.Is(err, usersvc.ErrUserNotFound) {
		return "", authsvc.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	at, err := s.tokenizer.Generate(userID, username)
	if err != nil {
		return "", err
	}

	return at.Hash, nil
}
