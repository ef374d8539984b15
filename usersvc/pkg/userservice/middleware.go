package userservice

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/ichigozero/tasktracker/usersvc"
)

type Middleware func(Service) Service

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return loggingMiddleware{logger, next}
	}
}

type loggingMiddleware struct {
	logger log.Logger
	next   Service
}

func (mw loggingMiddleware) Register(ctx context.Context, username, password string) (u usersvc.User, err error) {
	defer func() {
		mw.logger.Log("method", "Register", "username", username, "id", u.ID, "err", err)
	}()
	return mw.next.Register(ctx, username, password)
}

func (mw loggingMiddleware) UserID(ctx context.Context, username, password string) (id uint64, err error) {
	defer func() {
		mw.logger.Log("method", "UserID", "username", username, "id", id, "err", err)
	}()
	return mw.next.UserID(ctx, username, password)
}

func (mw loggingMiddleware) IsExists(ctx context.Context, id uint64, username string) (v bool, err error) {
	defer func() {
		mw.logger.Log("method", "IsExists", "id", id, "username", username, "v", v, "err", err)
	}()
	return mw.next.IsExists(ctx, id, username)
}

func InstrumentingMiddleware(counter metrics.Counter, latency metrics.Histogram) Middleware {
	return func(next Service) Service {
		return instrumentingMiddleware{counter, latency, next}
	}
}

type instrumentingMiddleware struct {
	requestCount   metrics.Counter
	requestLatency metrics.Histogram
	next           Service
}

func (mw instrumentingMiddleware) Register(ctx context.Context, username, password string) (u usersvc.User, err error) {
	defer func(begin time.Time) {
		mw.requestCount.With("method", "register").Add(1)
		mw.requestLatency.With("method", "register").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.Register(ctx, username, password)
}

func (mw instrumentingMiddleware) UserID(ctx context.Context, username, password string) (id uint64, err error) {
	defer func(begin time.Time) {
		mw.requestCount.With("method", "user_id").Add(1)
		mw.requestLatency.With("method", "user_id").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.UserID(ctx, username, password)
}

func (mw instrumentingMiddleware) IsExists(ctx context.Context, id uint64, username string) (v bool, err error) {
	defer func(begin time.Time) {
		mw.requestCount.With("method", "is_exists").Add(1)
		mw.requestLatency.With("method", "is_exists").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.IsExists(ctx, id, username)
}
