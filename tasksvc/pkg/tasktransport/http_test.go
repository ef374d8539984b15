package tasktransport

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	stdjwt "github.com/dgrijalva/jwt-go"
	kitjwt "github.com/go-kit/kit/auth/jwt"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/ichigozero/tasktracker/authsvc"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authservice"
	"github.com/ichigozero/tasktracker/authsvc/pkg/authtransport"
	"github.com/ichigozero/tasktracker/tasksvc"
	taskgorm "github.com/ichigozero/tasktracker/tasksvc/db/gorm"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskendpoint"
	"github.com/ichigozero/tasktracker/tasksvc/pkg/taskservice"
	"github.com/ichigozero/tasktracker/usersvc"
	usergorm "github.com/ichigozero/tasktracker/usersvc/db/gorm"
	"github.com/ichigozero/tasktracker/usersvc/pkg/userservice"
	"github.com/ichigozero/tasktracker/validation"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	libgorm "gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var secret = []byte("test-secret")

type harness struct {
	server    *httptest.Server
	users     userservice.Service
	tokenizer authservice.Tokenizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := libgorm.Open(sqlite.Open("file::memory:"), &libgorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&usersvc.User{}, &tasksvc.Task{}))

	users := userservice.NewBasicService(usergorm.NewUserRepository(db), bcrypt.MinCost)
	tasks := taskservice.NewBasicService(taskgorm.NewTaskRepository(db), log.NewNopLogger())

	handler := NewHTTPHandler(
		taskendpoint.New(tasks, nil, log.NewNopLogger()),
		authtransport.NewBearerAuth(secret, users),
		log.NewNopLogger(),
	)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &harness{
		server:    server,
		users:     users,
		tokenizer: authservice.NewTokenizer(secret, time.Hour),
	}
}

func (h *harness) token(t *testing.T, username string) string {
	t.Helper()

	user, err := h.users.Register(context.Background(), username, "Passw0rd!")
	require.NoError(t, err)

	at, err := h.tokenizer.Generate(user.ID, username)
	require.NoError(t, err)
	return at.Hash
}

func (h *harness) do(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func decodeError(t *testing.T, b []byte) errorWrapper {
	t.Helper()

	var w errorWrapper
	require.NoError(t, json.Unmarshal(b, &w))
	return w
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "alice")

	resp, body := h.do(t, "POST", "/tasks", token, `{"title":"Buy milk","description":"2%"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created tasksvc.Task
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, "2%", created.Description)
	assert.Equal(t, tasksvc.StatusOpen, created.Status)

	resp, body = h.do(t, "GET", "/tasks", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []tasksvc.Task
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, []tasksvc.Task{created}, listed)

	resp, body = h.do(t, "PATCH", "/tasks/1/status", token, `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated tasksvc.Task
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, tasksvc.StatusInProgress, updated.Status)
	assert.Equal(t, created.Title, updated.Title)

	resp, body = h.do(t, "GET", "/tasks?status=in_progress", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed, 1)

	resp, body = h.do(t, "GET", "/tasks?status=DONE", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, _ = h.do(t, "DELETE", "/tasks/1", token, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = h.do(t, "GET", "/tasks/1", token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task with ID '1': task not found", decodeError(t, body).Error)
}

func TestForeignTaskLooksMissing(t *testing.T) {
	h := newHarness(t)
	alice := h.token(t, "alice")
	bob := h.token(t, "bobby")

	resp, _ := h.do(t, "POST", "/tasks", alice, `{"title":"Walk dog","description":"twice"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, tc := range []struct {
		method, path, body string
	}{
		{"GET", "/tasks/1", ""},
		{"PATCH", "/tasks/1/status", `{"status":"DONE"}`},
		{"DELETE", "/tasks/1", ""},
	} {
		resp, _ := h.do(t, tc.method, tc.path, bob, tc.body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.method)
	}

	resp, body := h.do(t, "GET", "/tasks", bob, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, body = h.do(t, "GET", "/tasks/1", alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task tasksvc.Task
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, tasksvc.StatusOpen, task.Status)
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "alice")

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		violation string
	}{
		{"non numeric id", "GET", "/tasks/abc", "", ""},
		{"zero id", "DELETE", "/tasks/0", "", ""},
		{"id above int64", "GET", "/tasks/9223372036854775808", "", ""},
		{"delete id above int64", "DELETE", "/tasks/9223372036854775808", "", ""},
		{"update id above uint64", "PATCH", "/tasks/18446744073709551615/status", `{"status":"DONE"}`, ""},
		{"malformed json", "POST", "/tasks", `{"title":`, ""},
		{"blank title", "POST", "/tasks", `{"title":"  ","description":"2%"}`, "title"},
		{"missing description", "POST", "/tasks", `{"title":"Buy milk"}`, "description"},
		{"unknown status", "PATCH", "/tasks/1/status", `{"status":"ARCHIVED"}`, "status"},
		{"missing status", "PATCH", "/tasks/1/status", `{}`, "status"},
		{"unknown status filter", "GET", "/tasks?status=later", "", "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, tt.method, tt.path, token, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

			w := decodeError(t, body)
			assert.NotEmpty(t, w.Error)
			if tt.violation == "" {
				return
			}
			require.Len(t, w.Violations, 1)
			assert.Equal(t, tt.violation, w.Violations[0].Field)
		})
	}
}

func TestUnauthorized(t *testing.T) {
	h := newHarness(t)
	h.token(t, "alice")

	forged, err := authservice.NewTokenizer([]byte("other-secret"), time.Hour).Generate(1, "alice")
	require.NoError(t, err)

	expired, err := stdjwt.NewWithClaims(stdjwt.SigningMethodHS256, stdjwt.MapClaims{
		"uuid":     "u",
		"user_id":  1,
		"username": "alice",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	ghost, err := h.tokenizer.Generate(42, "ghost")
	require.NoError(t, err)

	renamed, err := h.tokenizer.Generate(1, "mallory")
	require.NoError(t, err)

	noUser, err := stdjwt.NewWithClaims(stdjwt.SigningMethodHS256, stdjwt.MapClaims{
		"uuid":     "u",
		"username": "alice",
	}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", forged.Hash},
		{"expired", expired},
		{"unknown user", ghost.Hash},
		{"username mismatch", renamed.Hash},
		{"missing user id", noUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, "GET", "/tasks", tt.token, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))
		})
	}
}

func TestErr2code(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&validation.Error{}, http.StatusBadRequest},
		{tasksvc.ErrInvalidArgument, http.StatusBadRequest},
		{ErrBadRouting, http.StatusBadRequest},
		{tasksvc.NotFound(3), http.StatusNotFound},
		{kitjwt.ErrTokenContextMissing, http.StatusUnauthorized},
		{authsvc.ErrUnauthorized, http.StatusUnauthorized},
		{tasksvc.ErrIdentityMissing, http.StatusUnauthorized},
		{tasksvc.ErrInternal, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, err2code(tt.err), tt.err.Error())
	}
}

func TestInternalErrorBodyIsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	errorEncoder(context.Background(), errors.New("pq: connection refused"), rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestHTTPClient(t *testing.T) {
	h := newHarness(t)
	alice := context.WithValue(context.Background(), kitjwt.JWTTokenContextKey, h.token(t, "alice"))
	bob := context.WithValue(context.Background(), kitjwt.JWTTokenContextKey, h.token(t, "bobby"))

	client, err := NewHTTPClient(h.server.URL, nil, log.NewNopLogger())
	require.NoError(t, err)

	created, err := client.CreateTask(alice, tasksvc.Auth{}, "Buy milk", "2%")
	require.NoError(t, err)
	assert.Equal(t, tasksvc.StatusOpen, created.Status)

	_, err = client.CreateTask(alice, tasksvc.Auth{}, "", "2%")
	var verr *validation.Error
	assert.True(t, errors.As(err, &verr))

	tasks, err := client.Tasks(alice, tasksvc.Auth{}, tasksvc.Filter{Search: "milk"})
	require.NoError(t, err)
	assert.Equal(t, []tasksvc.Task{created}, tasks)

	tasks, err = client.Tasks(alice, tasksvc.Auth{}, tasksvc.Filter{Search: "Milk"})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = client.Task(bob, tasksvc.Auth{}, created.ID)
	assert.ErrorIs(t, err, tasksvc.ErrTaskNotFound)

	updated, err := client.UpdateTaskStatus(alice, tasksvc.Auth{}, created.ID, tasksvc.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, tasksvc.StatusDone, updated.Status)

	task, err := client.Task(alice, tasksvc.Auth{}, created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, task)

	assert.ErrorIs(t, client.DeleteTask(bob, tasksvc.Auth{}, created.ID), tasksvc.ErrTaskNotFound)
	require.NoError(t, client.DeleteTask(alice, tasksvc.Auth{}, created.ID))

	_, err = client.Tasks(context.Background(), tasksvc.Auth{}, tasksvc.Filter{})
	assert.ErrorIs(t, err, authsvc.ErrUnauthorized)
}

func TestHTTPClientBasePath(t *testing.T) {
	h := newHarness(t)
	ctx := context.WithValue(context.Background(), kitjwt.JWTTokenContextKey, h.token(t, "alice"))

	gateway := http.NewServeMux()
	gateway.Handle("/api/", http.StripPrefix("/api", h.server.Config.Handler))
	server := httptest.NewServer(gateway)
	defer server.Close()

	client, err := NewHTTPClient(server.URL+"/api/", nil, log.NewNopLogger())
	require.NoError(t, err)

	created, err := client.CreateTask(ctx, tasksvc.Auth{}, "Buy milk", "2%")
	require.NoError(t, err)

	updated, err := client.UpdateTaskStatus(ctx, tasksvc.Auth{}, created.ID, tasksvc.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, tasksvc.StatusDone, updated.Status)

	task, err := client.Task(ctx, tasksvc.Auth{}, created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, task)

	require.NoError(t, client.DeleteTask(ctx, tasksvc.Auth{}, created.ID))
}

func TestHTTPClientDefaultLimiter(t *testing.T) {
	h := newHarness(t)
	ctx := context.WithValue(context.Background(), kitjwt.JWTTokenContextKey, h.token(t, "alice"))

	client, err := NewHTTPClient(h.server.URL, nil, log.NewNopLogger())
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		_, err := client.Tasks(ctx, tasksvc.Auth{}, tasksvc.Filter{})
		if errors.Is(err, ratelimit.ErrLimited) {
			time.Sleep(20 * time.Millisecond)
			_, err = client.Tasks(ctx, tasksvc.Auth{}, tasksvc.Filter{})
		}
		require.NoError(t, err, "call %d", i)
	}
}

func TestHTTPClientBreaker(t *testing.T) {
	var code int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&code)))
		w.Write([]byte(`{"error":"whatever"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, nil, log.NewNopLogger())
	require.NoError(t, err)

	atomic.StoreInt32(&code, http.StatusNotFound)
	for i := 0; i < 10; i++ {
		_, err = client.Task(context.Background(), tasksvc.Auth{}, 1)
		require.ErrorIs(t, err, tasksvc.ErrTaskNotFound)
	}

	atomic.StoreInt32(&code, http.StatusInternalServerError)
	for i := 0; i < 6; i++ {
		_, err = client.Task(context.Background(), tasksvc.Auth{}, 1)
		require.ErrorIs(t, err, tasksvc.ErrInternal)
	}

	_, err = client.Task(context.Background(), tasksvc.Auth{}, 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
