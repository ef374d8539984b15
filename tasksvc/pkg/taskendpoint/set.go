package taskendpoint

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/ichigozero/tasktracker/authsvc"
	"github.com/ichigozero/tasktracker/tasksvc"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskservice"
	"golang.org/x/time/rate"
)

type Set struct {
	TasksEndpoint            endpoint.Endpoint
	TaskEndpoint             endpoint.Endpoint
	CreateTaskEndpoint       endpoint.Endpoint
	UpdateTaskStatusEndpoint endpoint.Endpoint
	DeleteTaskEndpoint       endpoint.Endpoint
}

// New wires every endpoint behind a shared limiter; a nil limiter disables
// rate limiting.
func New(svc taskservice.Service, limiter *rate.Limiter, logger log.Logger) Set {
	mw := func(method string) endpoint.Middleware {
		mws := []endpoint.Middleware{LoggingMiddleware(log.With(logger, "method", method))}
		if limiter != nil {
			mws = append(mws, ratelimit.NewErroringLimiter(limiter))
		}
		return endpoint.Chain(mws[0], mws[1:]...)
	}

	var tasksEndpoint endpoint.Endpoint
	{
		tasksEndpoint = MakeTasksEndpoint(svc)
		tasksEndpoint = mw("Tasks")(tasksEndpoint)
	}
	var taskEndpoint endpoint.Endpoint
	{
		taskEndpoint = MakeTaskEndpoint(svc)
		taskEndpoint = mw("Task")(taskEndpoint)
	}
	var createTaskEndpoint endpoint.Endpoint
	{
		createTaskEndpoint = MakeCreateTaskEndpoint(svc)
		createTaskEndpoint = mw("CreateTask")(createTaskEndpoint)
	}
	var updateTaskStatusEndpoint endpoint.Endpoint
	{
		updateTaskStatusEndpoint = MakeUpdateTaskStatusEndpoint(svc)
		updateTaskStatusEndpoint = mw("UpdateTaskStatus")(updateTaskStatusEndpoint)
	}
	var deleteTaskEndpoint endpoint.Endpoint
	{
		deleteTaskEndpoint = MakeDeleteTaskEndpoint(svc)
		deleteTaskEndpoint = mw("DeleteTask")(deleteTaskEndpoint)
	}

	return Set{
		TasksEndpoint:            tasksEndpoint,
		TaskEndpoint:             taskEndpoint,
		CreateTaskEndpoint:       createTaskEndpoint,
		UpdateTaskStatusEndpoint: updateTaskStatusEndpoint,
		DeleteTaskEndpoint:       deleteTaskEndpoint,
	}
}

// The Set methods implement taskservice.Service for clients. The identity
// travels as a bearer token in the context, so a is ignored.

func (s Set) Tasks(ctx context.Context, a tasksvc.Auth, f tasksvc.Filter) ([]tasksvc.Task, error) {
	resp, err := s.TasksEndpoint(ctx, TasksRequest{Status: string(f.Status), Search: f.Search})
	if err != nil {
		return nil, err
	}
	response := resp.(TasksResponse)
	return response.Tasks, response.Err
}

func (s Set) Task(ctx context.Context, a tasksvc.Auth, taskID uint64) (tasksvc.Task, error) {
	resp, err := s.TaskEndpoint(ctx, TaskRequest{TaskID: taskID})
	if err != nil {
		return tasksvc.Task{}, err
	}
	response := resp.(TaskResponse)
	return response.Task, response.Err
}

func (s Set) CreateTask(ctx context.Context, a tasksvc.Auth, title, description string) (tasksvc.Task, error) {
	resp, err := s.CreateTaskEndpoint(ctx, CreateTaskRequest{Title: title, Description: description})
	if err != nil {
		return tasksvc.Task{}, err
	}
	response := resp.(CreateTaskResponse)
	return response.Task, response.Err
}

func (s Set) UpdateTaskStatus(ctx context.Context, a tasksvc.Auth, taskID uint64, status tasksvc.Status) (tasksvc.Task, error) {
	resp, err := s.UpdateTaskStatusEndpoint(ctx, UpdateTaskStatusRequest{TaskID: taskID, Status: string(status)})
	if err != nil {
		return tasksvc.Task{}, err
	}
	response := resp.(UpdateTaskStatusResponse)
	return response.Task, response.Err
}

func (s Set) DeleteTask(ctx context.Context, a tasksvc.Auth, taskID uint64) error {
	resp, err := s.DeleteTaskEndpoint(ctx, DeleteTaskRequest{TaskID: taskID})
	if err != nil {
		return err
	}
	response := resp.(DeleteTaskResponse)
	return response.Err
}

func MakeTasksEndpoint(s taskservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		auth, err := identity(ctx)
		if err != nil {
			return TasksResponse{Err: err}, nil
		}

		req := request.(TasksRequest)
		t, err := s.Tasks(ctx, auth, tasksvc.Filter{Status: tasksvc.Status(req.Status), Search: req.Search})
		return TasksResponse{Tasks: t, Err: err}, nil
	}
}

func MakeTaskEndpoint(s taskservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		auth, err := identity(ctx)
		if err != nil {
			return TaskResponse{Err: err}, nil
		}

		req := request.(TaskRequest)
		t, err := s.Task(ctx, auth, req.TaskID)
		return TaskResponse{Task: t, Err: err}, nil
	}
}

func MakeCreateTaskEndpoint(s taskservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		auth, err := identity(ctx)
		if err != nil {
			return CreateTaskResponse{Err: err}, nil
		}

		req := request.(CreateTaskRequest)
		t, err := s.CreateTask(ctx, auth, req.Title, req.Description)
		return CreateTaskResponse{Task: t, Err: err}, nil
	}
}

func MakeUpdateTaskStatusEndpoint(s taskservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		auth, err := identity(ctx)
		if err != nil {
			return UpdateTaskStatusResponse{Err: err}, nil
		}

		req := request.(UpdateTaskStatusRequest)
		t, err := s.UpdateTaskStatus(ctx, auth, req.TaskID, tasksvc.Status(req.Status))
		return UpdateTaskStatusResponse{Task: t, Err: err}, nil
	}
}

func MakeDeleteTaskEndpoint(s taskservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		auth, err := identity(ctx)
		if err != nil {
			return DeleteTaskResponse{Err: err}, nil
		}

		req := request.(DeleteTaskRequest)
		err = s.DeleteTask(ctx, auth, req.TaskID)
		return DeleteTaskResponse{Err: err}, nil
	}
}

// identity reads the caller resolved by the authenticator middleware.
func identity(ctx context.Context) (tasksvc.Auth, error) {
	claims, ok := authsvc.FromContext(ctx)
	if !ok {
		return tasksvc.Auth{}, tasksvc.ErrIdentityMissing
	}

	return tasksvc.Auth{
		AccessUUID: claims.AccessUUID,
		UserID:     claims.UserID,
		Username:   claims.Username,
	}, nil
}

var (
	_ endpoint.Failer = TasksResponse{}
	_ endpoint.Failer = TaskResponse{}
	_ endpoint.Failer = CreateTaskResponse{}
	_ endpoint.Failer = UpdateTaskStatusResponse{}
	_ endpoint.Failer = DeleteTaskResponse{}
)

type TasksRequest struct {
	Status string `json:"status,omitempty" validate:"omitempty,oneof=OPEN IN_PROGRESS DONE"`
	Search string `json:"search,omitempty"`
}

// TasksResponse encodes as a bare JSON array.
type TasksResponse struct {
	Tasks []tasksvc.Task
	Err   error
}

func (r TasksResponse) Failed() error { return r.Err }

func (r TasksResponse) MarshalJSON() ([]byte, error) {
	if r.Tasks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Tasks)
}

func (r *TasksResponse) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &r.Tasks)
}

type TaskRequest struct {
	TaskID uint64 `json:"-" validate:"gt=0"`
}

type TaskResponse struct {
	tasksvc.Task
	Err error `json:"-"`
}

func (r TaskResponse) Failed() error { return r.Err }

type CreateTaskRequest struct {
	Title       string `json:"title" validate:"notblank"`
	Description string `json:"description" validate:"notblank"`
}

type CreateTaskResponse struct {
	tasksvc.Task
	Err error `json:"-"`
}

func (r CreateTaskResponse) Failed() error { return r.Err }

func (r CreateTaskResponse) StatusCode() int { return http.StatusCreated }

type UpdateTaskStatusRequest struct {
	TaskID uint64 `json:"-" validate:"gt=0"`
	Status string `json:"status" validate:"required,oneof=OPEN IN_PROGRESS DONE"`
}

type UpdateTaskStatusResponse struct {
	tasksvc.Task
	Err error `json:"-"`
}

func (r UpdateTaskStatusResponse) Failed() error { return r.Err }

type DeleteTaskRequest struct {
	TaskID uint64 `json:"-" validate:"gt=0"`
}

type DeleteTaskResponse struct {
	Err error `json:"-"`
}

func (r DeleteTaskResponse) Failed() error { return r.Err }

func (r DeleteTaskResponse) StatusCode() int { return http.StatusNoContent }
