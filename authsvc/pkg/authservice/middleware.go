package authservice

import (
	"context"

	"github.com/go-kit/kit/log"
)

type Middleware func(Service) Service

// LoggingMiddleware never logs passwords or issued tokens.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return loggingMiddleware{logger, next}
	}
}

type loggingMiddleware struct {
	logger log.Logger
	next   Service
}

func (mw loggingMiddleware) SignUp(ctx context.Context, username, password string) (err error) {
	defer func() {
		mw.logger.Log("method", "SignUp", "username", username, "err", err)
	}()
	return mw.next.SignUp(ctx, username, password)
}

func (mw loggingMiddleware) SignIn(ctx context.Context, username, password string) (token string, err error) {
	defer func() {
		mw.logger.Log("method", "SignIn", "username", username, "err", err)
	}()
	return mw.next.SignIn(ctx, username, password)
}
