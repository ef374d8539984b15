package tasktransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stdjwt "github.com/dgrijalva/jwt-go"
	kitjwt "github.com/go-kit/kit/auth/jwt"
	"github.com/go-kit/kit/circuitbreaker"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/ichigozero/tasktracker/authsvc"
	"github.com/ichigozero/tasktracker/tasksvc"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskendpoint"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskservice"
	"github.com/ichigozero/tasktracker/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// NewHTTPHandler mounts the task routes. authenticate runs in front of every
// task endpoint and must put the caller identity into the context.
func NewHTTPHandler(endpoints taskendpoint.Set, authenticate endpoint.Middleware, logger log.Logger) http.Handler {
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(errorEncoder),
		httptransport.ServerErrorHandler(transport.NewLogErrorHandler(logger)),
		httptransport.ServerBefore(kitjwt.HTTPToContext()),
	}

	tasksHandler := httptransport.NewServer(
		authenticate(endpoints.TasksEndpoint),
		decodeHTTPTasksRequest,
		encodeHTTPGenericResponse,
		options...,
	)

	taskHandler := httptransport.NewServer(
		authenticate(endpoints.TaskEndpoint),
		decodeHTTPTaskRequest,
		encodeHTTPGenericResponse,
		options...,
	)

	createTaskHandler := httptransport.NewServer(
		authenticate(endpoints.CreateTaskEndpoint),
		decodeHTTPCreateTaskRequest,
		encodeHTTPGenericResponse,
		options...,
	)

	updateTaskStatusHandler := httptransport.NewServer(
		authenticate(endpoints.UpdateTaskStatusEndpoint),
		decodeHTTPUpdateTaskStatusRequest,
		encodeHTTPGenericResponse,
		options...,
	)

	deleteTaskHandler := httptransport.NewServer(
		authenticate(endpoints.DeleteTaskEndpoint),
		decodeHTTPDeleteTaskRequest,
		encodeHTTPGenericResponse,
		options...,
	)

	r := mux.NewRouter()

	r.Methods("GET").Path("/tasks").Handler(tasksHandler)
	r.Methods("POST").Path("/tasks").Handler(createTaskHandler)
	r.Methods("GET").Path("/tasks/{task_id}").Handler(taskHandler)
	r.Methods("PATCH").Path("/tasks/{task_id}/status").Handler(updateTaskStatusHandler)
	r.Methods("DELETE").Path("/tasks/{task_id}").Handler(deleteTaskHandler)
	r.Methods("GET").Path("/metrics").Handler(promhttp.Handler())

	return r
}

// NewHTTPClient returns a Service backed by a remote instance. Every call
// needs the bearer token in the context under kitjwt.JWTTokenContextKey.
// A nil limiter allows 100 requests per second.
func NewHTTPClient(instance string, limiter *rate.Limiter, logger log.Logger) (taskservice.Service, error) {
	if !strings.HasPrefix(instance, "http") {
		instance = "http://" + instance
	}
	u, err := url.Parse(instance)
	if err != nil {
		return nil, err
	}

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(100), 100)
	}

	options := []httptransport.ClientOption{
		httptransport.ClientBefore(kitjwt.ContextToHTTP()),
	}

	guard := func(name string, e endpoint.Endpoint) endpoint.Endpoint {
		e = ratelimit.NewErroringLimiter(limiter)(e)
		e = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
		}))(e)
		return e
	}

	var tasksEndpoint endpoint.Endpoint
	{
		tasksEndpoint = httptransport.NewClient(
			"GET",
			copyURL(u, "/tasks"),
			encodeHTTPTasksRequest,
			decodeHTTPTasksResponse,
			options...,
		).Endpoint()
		tasksEndpoint = guard("Tasks", tasksEndpoint)
	}

	var taskEndpoint endpoint.Endpoint
	{
		taskEndpoint = httptransport.NewClient(
			"GET",
			copyURL(u, "/tasks"),
			encodeHTTPTaskRequest,
			decodeHTTPTaskResponse,
			options...,
		).Endpoint()
		taskEndpoint = guard("Task", taskEndpoint)
	}

	var createTaskEndpoint endpoint.Endpoint
	{
		createTaskEndpoint = httptransport.NewClient(
			"POST",
			copyURL(u, "/tasks"),
			encodeHTTPGenericRequest,
			decodeHTTPCreateTaskResponse,
			options...,
		).Endpoint()
		createTaskEndpoint = guard("CreateTask", createTaskEndpoint)
	}

	var updateTaskStatusEndpoint endpoint.Endpoint
	{
		updateTaskStatusEndpoint = httptransport.NewClient(
			"PATCH",
			copyURL(u, "/tasks"),
			encodeHTTPUpdateTaskStatusRequest,
			decodeHTTPUpdateTaskStatusResponse,
			options...,
		).Endpoint()
		updateTaskStatusEndpoint = guard("UpdateTaskStatus", updateTaskStatusEndpoint)
	}

	var deleteTaskEndpoint endpoint.Endpoint
	{
		deleteTaskEndpoint = httptransport.NewClient(
			"DELETE",
			copyURL(u, "/tasks"),
			encodeHTTPDeleteTaskRequest,
			decodeHTTPDeleteTaskResponse,
			options...,
		).Endpoint()
		deleteTaskEndpoint = guard("DeleteTask", deleteTaskEndpoint)
	}

	return taskendpoint.Set{
		TasksEndpoint:            tasksEndpoint,
		TaskEndpoint:             taskEndpoint,
		CreateTaskEndpoint:       createTaskEndpoint,
		UpdateTaskStatusEndpoint: updateTaskStatusEndpoint,
		DeleteTaskEndpoint:       deleteTaskEndpoint,
	}, nil
}

func copyURL(base *url.URL, path string) *url.URL {
	next := *base
	next.Path = strings.TrimSuffix(base.Path, "/") + path
	return &next
}

func errorEncoder(_ context.Context, err error, w http.ResponseWriter) {
	code := err2code(err)

	body := errorWrapper{Error: err.Error()}
	if code == http.StatusInternalServerError {
		body.Error = tasksvc.ErrInternal.Error()
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		body.Violations = verr.Violations
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

type errorWrapper struct {
	Error      string                 `json:"error"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

func err2code(err error) int {
	var (
		verr   *validation.Error
		jwtErr *stdjwt.ValidationError
	)
	switch {
	case errors.As(err, &verr),
		errors.Is(err, tasksvc.ErrInvalidArgument),
		errors.Is(err, ErrBadRouting):
		return http.StatusBadRequest
	case errors.Is(err, tasksvc.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, kitjwt.ErrTokenContextMissing),
		errors.Is(err, kitjwt.ErrTokenInvalid),
		errors.Is(err, kitjwt.ErrTokenExpired),
		errors.Is(err, kitjwt.ErrTokenMalformed),
		errors.Is(err, kitjwt.ErrTokenNotActive),
		errors.Is(err, kitjwt.ErrUnexpectedSigningMethod),
		errors.Is(err, stdjwt.ErrSignatureInvalid),
		errors.As(err, &jwtErr),
		errors.Is(err, authsvc.ErrClaimsMissing),
		errors.Is(err, authsvc.ErrClaimsInvalid),
		errors.Is(err, authsvc.ErrUnauthorized),
		errors.Is(err, tasksvc.ErrIdentityMissing):
		return http.StatusUnauthorized
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func decodeHTTPTasksRequest(_ context.Context, r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	req := taskendpoint.TasksRequest{
		Status: string(tasksvc.NormalizeStatus(q.Get("status"))),
		Search: q.Get("search"),
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeHTTPTaskRequest(_ context.Context, r *http.Request) (interface{}, error) {
	taskID, err := taskIDFromPath(r)
	if err != nil {
		return nil, err
	}

	return taskendpoint.TaskRequest{
		TaskID: taskID,
	}, nil
}

func decodeHTTPCreateTaskRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req taskendpoint.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", tasksvc.ErrInvalidArgument, err)
	}

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeHTTPUpdateTaskStatusRequest(_ context.Context, r *http.Request) (interface{}, error) {
	taskID, err := taskIDFromPath(r)
	if err != nil {
		return nil, err
	}

	var req taskendpoint.UpdateTaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", tasksvc.ErrInvalidArgument, err)
	}

	req.TaskID = taskID
	req.Status = string(tasksvc.NormalizeStatus(req.Status))

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeHTTPDeleteTaskRequest(_ context.Context, r *http.Request) (interface{}, error) {
	taskID, err := taskIDFromPath(r)
	if err != nil {
		return nil, err
	}

	return taskendpoint.DeleteTaskRequest{
		TaskID: taskID,
	}, nil
}

func taskIDFromPath(r *http.Request) (uint64, error) {
	vars := mux.Vars(r)
	raw, ok := vars["task_id"]
	if !ok {
		return 0, ErrBadRouting
	}

	taskID, err := strconv.ParseUint(raw, 10, 63)
	if err != nil || taskID == 0 {
		return 0, fmt.Errorf("%w: task id %q is not a positive integer", tasksvc.ErrInvalidArgument, raw)
	}
	return taskID, nil
}

// ErrBadRouting is returned when an expected path variable is missing.
// It always indicates programmer error.
var ErrBadRouting = errors.New("inconsistent mapping between route and handler (programmer error)")

// encodeHTTPGenericResponse is a transport/http.EncodeResponseFunc that encodes
// the response as JSON to the response writer, honouring StatusCoder.
func encodeHTTPGenericResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if f, ok := response.(endpoint.Failer); ok && f.Failed() != nil {
		errorEncoder(ctx, f.Failed(), w)
		return nil
	}

	code := http.StatusOK
	if sc, ok := response.(httptransport.StatusCoder); ok {
		code = sc.StatusCode()
	}
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return nil
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(response)
}

func encodeHTTPTasksRequest(_ context.Context, r *http.Request, request interface{}) error {
	req := request.(taskendpoint.TasksRequest)

	q := r.URL.Query()
	if req.Status != "" {
		q.Set("status", req.Status)
	}
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	r.URL.RawQuery = q.Encode()
	return nil
}

func encodeHTTPTaskRequest(_ context.Context, r *http.Request, request interface{}) error {
	req := request.(taskendpoint.TaskRequest)
	r.URL.Path = taskPath(r.URL.Path, req.TaskID)
	return nil
}

func encodeHTTPUpdateTaskStatusRequest(ctx context.Context, r *http.Request, request interface{}) error {
	req := request.(taskendpoint.UpdateTaskStatusRequest)
	r.URL.Path = taskPath(r.URL.Path, req.TaskID) + "/status"
	return encodeHTTPGenericRequest(ctx, r, request)
}

func encodeHTTPDeleteTaskRequest(_ context.Context, r *http.Request, request interface{}) error {
	req := request.(taskendpoint.DeleteTaskRequest)
	r.URL.Path = taskPath(r.URL.Path, req.TaskID)
	return nil
}

// taskPath appends the task id to the collection path the client was built with.
func taskPath(collection string, taskID uint64) string {
	return collection + "/" + strconv.FormatUint(taskID, 10)
}

// encodeHTTPGenericRequest is a transport/http.EncodeRequestFunc that
// JSON-encodes any request to the request body. Primarily useful in a client.
func encodeHTTPGenericRequest(_ context.Context, r *http.Request, request interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(request); err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	r.Body = ioutil.NopCloser(&buf)
	return nil
}

func decodeHTTPTasksResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return taskendpoint.TasksResponse{Err: failed}, nil
	}

	var resp taskendpoint.TasksResponse
	err = json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

func decodeHTTPTaskResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return taskendpoint.TaskResponse{Err: failed}, nil
	}

	var resp taskendpoint.TaskResponse
	err = json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

func decodeHTTPCreateTaskResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return taskendpoint.CreateTaskResponse{Err: failed}, nil
	}

	var resp taskendpoint.CreateTaskResponse
	err = json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

func decodeHTTPUpdateTaskStatusResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return taskendpoint.UpdateTaskStatusResponse{Err: failed}, nil
	}

	var resp taskendpoint.UpdateTaskStatusResponse
	err = json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

func decodeHTTPDeleteTaskResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	return taskendpoint.DeleteTaskResponse{Err: failed}, nil
}

// remoteError is a failure reported by the server. Unwrap yields the local
// sentinel matching the status code so callers can use errors.Is.
type remoteError struct {
	msg  string
	kind error
}

func (e remoteError) Error() string { return e.msg }

func (e remoteError) Unwrap() error { return e.kind }

// responseError splits server failures in two. Client errors (4xx) come back
// as failed and travel inside the response; anything else is returned as err
// so the circuit breaker counts it.
func responseError(r *http.Response) (failed, err error) {
	if r.StatusCode < http.StatusBadRequest {
		return nil, nil
	}

	var body errorWrapper
	if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil || body.Error == "" {
		body.Error = r.Status
	}

	switch r.StatusCode {
	case http.StatusBadRequest:
		if len(body.Violations) > 0 {
			return &validation.Error{Violations: body.Violations}, nil
		}
		return remoteError{body.Error, tasksvc.ErrInvalidArgument}, nil
	case http.StatusUnauthorized:
		return remoteError{body.Error, authsvc.ErrUnauthorized}, nil
	case http.StatusNotFound:
		return remoteError{body.Error, tasksvc.ErrTaskNotFound}, nil
	case http.StatusTooManyRequests:
		return remoteError{body.Error, ratelimit.ErrLimited}, nil
	}
	return nil, remoteError{body.Error, tasksvc.ErrInternal}
}
