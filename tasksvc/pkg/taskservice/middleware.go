package taskservice

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/ichigozero/tasktracker/tasksvc"
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

func (mw loggingMiddleware) Tasks(ctx context.Context, a tasksvc.Auth, f tasksvc.Filter) (t []tasksvc.Task, err error) {
	defer func() {
		mw.logger.Log(
			"method", "Tasks",
			"access_uuid", a.AccessUUID,
			"user_id", a.UserID,
			"username", a.Username,
			"status", f.Status,
			"search", f.Search,
			"count", len(t),
			"err", err,
		)
	}()
	return mw.next.Tasks(ctx, a, f)
}

func (mw loggingMiddleware) Task(ctx context.Context, a tasksvc.Auth, taskID uint64) (t tasksvc.Task, err error) {
	defer func() {
		mw.logger.Log(
			"method", "Task",
			"access_uuid", a.AccessUUID,
			"user_id", a.UserID,
			"username", a.Username,
			"task_id", taskID,
			"err", err,
		)
	}()
	return mw.next.Task(ctx, a, taskID)
}

func (mw loggingMiddleware) CreateTask(ctx context.Context, a tasksvc.Auth, title, description string) (t tasksvc.Task, err error) {
	defer func() {
		mw.logger.Log(
			"method", "CreateTask",
			"access_uuid", a.AccessUUID,
			"user_id", a.UserID,
			"username", a.Username,
			"title", title,
			"description", description,
			"task_id", t.ID,
			"err", err,
		)
	}()
	return mw.next.CreateTask(ctx, a, title, description)
}

func (mw loggingMiddleware) UpdateTaskStatus(ctx context.Context, a tasksvc.Auth, taskID uint64, status tasksvc.Status) (t tasksvc.Task, err error) {
	defer func() {
		mw.logger.Log(
			"method", "UpdateTaskStatus",
			"access_uuid", a.AccessUUID,
			"user_id", a.UserID,
			"username", a.Username,
			"task_id", taskID,
			"status", status,
			"err", err,
		)
	}()
	return mw.next.UpdateTaskStatus(ctx, a, taskID, status)
}

func (mw loggingMiddleware) DeleteTask(ctx context.Context, a tasksvc.Auth, taskID uint64) (err error) {
	defer func() {
		mw.logger.Log(
			"method", "DeleteTask",
			"access_uuid", a.AccessUUID,
			"user_id", a.UserID,
			"username", a.Username,
			"task_id", taskID,
			"err", err,
		)
	}()
	return mw.next.DeleteTask(ctx, a, taskID)
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

func (mw instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	lvs := []string{"method", method, "error", boolLabel(err != nil)}
	mw.requestCount.With(lvs...).Add(1)
	mw.requestLatency.With(lvs...).Observe(time.Since(begin).Seconds())
}

func (mw instrumentingMiddleware) Tasks(ctx context.Context, a tasksvc.Auth, f tasksvc.Filter) (t []tasksvc.Task, err error) {
	defer func(begin time.Time) { mw.observe("tasks", begin, err) }(time.Now())

	return mw.next.Tasks(ctx, a, f)
}

func (mw instrumentingMiddleware) Task(ctx context.Context, a tasksvc.Auth, taskID uint64) (t tasksvc.Task, err error) {
	defer func(begin time.Time) { mw.observe("task", begin, err) }(time.Now())

	return mw.next.Task(ctx, a, taskID)
}

func (mw instrumentingMiddleware) CreateTask(ctx context.Context, a tasksvc.Auth, title, description string) (t tasksvc.Task, err error) {
	defer func(begin time.Time) { mw.observe("create_task", begin, err) }(time.Now())

	return mw.next.CreateTask(ctx, a, title, description)
}

func (mw instrumentingMiddleware) UpdateTaskStatus(ctx context.Context, a tasksvc.Auth, taskID uint64, status tasksvc.Status) (t tasksvc.Task, err error) {
	defer func(begin time.Time) { mw.observe("update_task_status", begin, err) }(time.Now())

	return mw.next.UpdateTaskStatus(ctx, a, taskID, status)
}

func (mw instrumentingMiddleware) DeleteTask(ctx context.Context, a tasksvc.Auth, taskID uint64) (err error) {
	defer func(begin time.Time) { mw.observe("delete_task", begin, err) }(time.Now())

	return mw.next.DeleteTask(ctx, a, taskID)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
