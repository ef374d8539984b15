package authendpoint

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authservice"
	"golang.org/x/time/rate"
)

type Set struct {
	SignUpEndpoint endpoint.Endpoint
	SignInEndpoint endpoint.Endpoint
}

func New(svc authservice.Service, limiter *rate.Limiter, logger log.Logger) Set {
	var signUpEndpoint endpoint.Endpoint
	{
		signUpEndpoint = MakeSignUpEndpoint(svc)
		if limiter != nil {
			signUpEndpoint = ratelimit.NewErroringLimiter(limiter)(signUpEndpoint)
		}
		signUpEndpoint = LoggingMiddleware(log.With(logger, "method", "SignUp"))(signUpEndpoint)
	}

	var signInEndpoint endpoint.Endpoint
	{
		signInEndpoint = MakeSignInEndpoint(svc)
		if limiter != nil {
			signInEndpoint = ratelimit.NewErroringLimiter(limiter)(signInEndpoint)
		}
		signInEndpoint = LoggingMiddleware(log.With(logger, "method", "SignIn"))(signInEndpoint)
	}

	return Set{
		SignUpEndpoint: signUpEndpoint,
		SignInEndpoint: signInEndpoint,
	}
}

func (s Set) SignUp(ctx context.Context, username, password string) error {
	response, err := s.SignUpEndpoint(ctx, SignUpRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	resp := response.(SignUpResponse)
	return resp.Err
}

func (s Set) SignIn(ctx context.Context, username, password string) (string, error) {
	response, err := s.SignInEndpoint(ctx, SignInRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	resp := response.(SignInResponse)
	return resp.AccessToken, resp.Err
}

func MakeSignUpEndpoint(s authservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(SignUpRequest)
		err = s.SignUp(ctx, req.Username, req.Password)

		return SignUpResponse{Err: err}, nil
	}
}

func MakeSignInEndpoint(s authservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(SignInRequest)
		t, err := s.SignIn(ctx, req.Username, req.Password)

		return SignInResponse{AccessToken: t, Err: err}, nil
	}
}

var (
	_ endpoint.Failer = SignUpResponse{}
	_ endpoint.Failer = SignInResponse{}
)

// Credentials is the body of both sign up and sign in.
type Credentials struct {
	Username string `json:"username" validate:"required,min=4,max=20"`
	Password string `json:"password" validate:"required,min=8,max=20,password"`
}

type SignUpRequest Credentials

type SignUpResponse struct {
	Err error `json:"-"`
}

func (r SignUpResponse) Failed() error { return r.Err }

func (r SignUpResponse) StatusCode() int { return http.StatusCreated }

type SignInRequest Credentials

type SignInResponse struct {
	AccessToken string `json:"accessToken"`
	Err         error  `json:"-"`
}

func (r SignInResponse) Failed() error { return r.Err }
