package authtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/ichigozero/tasktracker/authsvc"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authendpoint"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authservice"
	"github.com/ichigozero/tasktracker/usersvc"
	"github.com/ichigozero/tasktracker/validation"
)

func NewHTTPHandler(endpoints authendpoint.Set, logger log.Logger) http.Handler {
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(errorEncoder),
		httptransport.ServerErrorHandler(transport.NewLogErrorHandler(logger)),
	}

	signUpHandler := httptransport.NewServer(
		endpoints.SignUpEndpoint,
		decodeHTTPSignUpRequest,
		encodeHTTPEmptyResponse,
		options...,
	)

	signInHandler := httptransport.NewServer(
		endpoints.SignInEndpoint,
		decodeHTTPSignInRequest,
		encodeHTTPGenericResponse,
		options...,
	)

	r := mux.NewRouter()

	r.Methods("POST").Path("/signup").Handler(signUpHandler)
	r.Methods("POST").Path("/signin").Handler(signInHandler)

	return r
}

func NewHTTPClient(instance string, logger log.Logger) (authservice.Service, error) {
	// Quickly sanitize the instance string.
	if !strings.HasPrefix(instance, "http") {
		instance = "http://" + instance
	}
	u, err := url.Parse(instance)
	if err != nil {
		return nil, err
	}

	var options []httptransport.ClientOption

	var signUpEndpoint endpoint.Endpoint
	{
		signUpEndpoint = httptransport.NewClient(
			"POST",
			copyURL(u, "/signup"),
			encodeHTTPGenericRequest,
			decodeHTTPSignUpResponse,
			options...,
		).Endpoint()
	}

	var signInEndpoint endpoint.Endpoint
	{
		signInEndpoint = httptransport.NewClient(
			"POST",
			copyURL(u, "/signin"),
			encodeHTTPGenericRequest,
			decodeHTTPSignInResponse,
			options...,
		).Endpoint()
	}

	return authendpoint.Set{
		SignUpEndpoint: signUpEndpoint,
		SignInEndpoint: signInEndpoint,
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
		body.Error = "internal server error"
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		body.Violations = verr.Violations
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func err2code(err error) int {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr),
		errors.Is(err, usersvc.ErrInvalidArgument),
		errors.Is(err, authsvc.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, usersvc.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

type errorWrapper struct {
	Error      string                 `json:"error"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

func decodeHTTPSignUpRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req authendpoint.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", authsvc.ErrInvalidArgument, err)
	}

	if err := validation.Struct(authendpoint.Credentials(req)); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeHTTPSignInRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req authendpoint.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", authsvc.ErrInvalidArgument, err)
	}

	if err := validation.Struct(authendpoint.Credentials(req)); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeHTTPSignUpResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	return authendpoint.SignUpResponse{Err: failed}, nil
}

func decodeHTTPSignInResponse(_ context.Context, r *http.Response) (interface{}, error) {
	failed, err := responseError(r)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return authendpoint.SignInResponse{Err: failed}, nil
	}

	var resp authendpoint.SignInResponse
	err = json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

type remoteError struct {
	msg  string
	kind error
}

func (e remoteError) Error() string { return e.msg }

func (e remoteError) Unwrap() error { return e.kind }

// responseError returns 4xx failures as failed and everything else as err.
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
		return remoteError{body.Error, authsvc.ErrInvalidArgument}, nil
	case http.StatusUnauthorized:
		return remoteError{body.Error, authsvc.ErrInvalidCredentials}, nil
	case http.StatusConflict:
		return remoteError{body.Error, usersvc.ErrUsernameTaken}, nil
	case http.StatusTooManyRequests:
		return remoteError{body.Error, ratelimit.ErrLimited}, nil
	}
	return nil, errors.New(body.Error)
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

// encodeHTTPGenericResponse is a transport/http.EncodeResponseFunc that encodes
// the response as JSON to the response writer. Primarily useful in a server.
func encodeHTTPGenericResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if f, ok := response.(endpoint.Failer); ok && f.Failed() != nil {
		errorEncoder(ctx, f.Failed(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

// encodeHTTPEmptyResponse writes only the status code of a successful response.
func encodeHTTPEmptyResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if f, ok := response.(endpoint.Failer); ok && f.Failed() != nil {
		errorEncoder(ctx, f.Failed(), w)
		return nil
	}

	code := http.StatusOK
	if sc, ok := response.(httptransport.StatusCoder); ok {
		code = sc.StatusCode()
	}
	w.WriteHeader(code)
	return nil
}
