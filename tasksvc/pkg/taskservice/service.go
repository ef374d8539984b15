package taskservice

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/ichigozero/tasktracker/tasksvc"
)

type Service interface {
	Tasks(ctx context.Context, a tasksvc.Auth, f tasksvc.Filter) ([]tasksvc.Task, error)
	Task(ctx context.Context, a tasksvc.Auth, taskID uint64) (tasksvc.Task, error)
	CreateTask(ctx context.Context, a tasksvc.Auth, title, description string) (tasksvc.Task, error)
	UpdateTaskStatus(ctx context.Context, a tasksvc.Auth, taskID uint64, status tasksvc.Status) (tasksvc.Task, error)
	DeleteTask(ctx context.Context, a tasksvc.Auth, taskID uint64) error
}

func New(t tasksvc.TaskRepository, logger log.Logger) Service {
	var svc Service
	{
		svc = NewBasicService(t, logger)
		svc = LoggingMiddleware(logger)(svc)
	}
	return svc
}

type basicService struct {
	tasks  tasksvc.TaskRepository
	logger log.Logger
}

// NewBasicService returns a Service without middlewares. The logger only
// receives storage failures.
func NewBasicService(t tasksvc.TaskRepository, logger log.Logger) Service {
	return basicService{tasks: t, logger: logger}
}

func (s basicService) Tasks(ctx context.Context, a tasksvc.Auth, f tasksvc.Filter) ([]tasksvc.Task, error) {
	if a.UserID == 0 {
		return nil, tasksvc.ErrInvalidArgument
	}

	tasks, err := s.tasks.FindAll(ctx, a.UserID, f)
	if err != nil {
		return nil, s.internal(err, a, "op", "Tasks", "status", f.Status, "search", f.Search)
	}
	return tasks, nil
}

func (s basicService) Task(ctx context.Context, a tasksvc.Auth, taskID uint64) (tasksvc.Task, error) {
	if a.UserID == 0 || taskID == 0 {
		return tasksvc.Task{}, tasksvc.ErrInvalidArgument
	}

	task, ok, err := s.tasks.Find(ctx, a.UserID, taskID)
	if err != nil {
		return tasksvc.Task{}, s.internal(err, a, "op", "Task", "task_id", taskID)
	}
	if !ok {
		return tasksvc.Task{}, tasksvc.NotFound(taskID)
	}
	return task, nil
}

func (s basicService) CreateTask(ctx context.Context, a tasksvc.Auth, title, description string) (tasksvc.Task, error) {
	if a.UserID == 0 || title == "" {
		return tasksvc.Task{}, tasksvc.ErrInvalidArgument
	}

	task, err := s.tasks.Create(ctx, a.UserID, title, description)
	if err != nil {
		return tasksvc.Task{}, s.internal(err, a, "op", "CreateTask", "title", title, "description", description)
	}
	return task, nil
}

// UpdateTaskStatus persists status as given; callers validate it. Concurrent
// updates of the same task are last-writer-wins.
func (s basicService) UpdateTaskStatus(ctx context.Context, a tasksvc.Auth, taskID uint64, status tasksvc.Status) (tasksvc.Task, error) {
	task, err := s.Task(ctx, a, taskID)
	if err != nil {
		return tasksvc.Task{}, err
	}

	task.Status = status

	task, ok, err := s.tasks.UpdateStatus(ctx, task)
	if err != nil {
		return tasksvc.Task{}, s.internal(err, a, "op", "UpdateTaskStatus", "task_id", taskID, "status", status)
	}
	if !ok {
		return tasksvc.Task{}, tasksvc.NotFound(taskID)
	}
	return task, nil
}

func (s basicService) DeleteTask(ctx context.Context, a tasksvc.Auth, taskID uint64) error {
	if a.UserID == 0 || taskID == 0 {
		return tasksvc.ErrInvalidArgument
	}

	affected, err := s.tasks.Delete(ctx, a.UserID, taskID)
	if err != nil {
		return s.internal(err, a, "op", "DeleteTask", "task_id", taskID)
	}
	if affected == 0 {
		return tasksvc.NotFound(taskID)
	}
	return nil
}

// internal logs a storage failure with the owner and payload and hides it
// behind ErrInternal.
func (s basicService) internal(err error, a tasksvc.Auth, keyvals ...interface{}) error {
	keyvals = append(keyvals, "user_id", a.UserID, "username", a.Username, "err", err)
	level.Error(s.logger).Log(keyvals...)
	return tasksvc.ErrInternal
}
