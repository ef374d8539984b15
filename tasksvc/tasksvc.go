package tasksvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

var Statuses = []Status{StatusOpen, StatusInProgress, StatusDone}

// NormalizeStatus trims and upper-cases user input. It does not check that
// the result is one of Statuses.
func NormalizeStatus(s string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(s)))
}

type Task struct {
	ID          uint64 `gorm:"primaryKey" json:"id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Status      Status `gorm:"type:varchar(16);not null;index" json:"status"`
	OwnerID     uint64 `gorm:"not null;index" json:"ownerId"`
}

// Filter narrows a task listing. Zero values are ignored.
type Filter struct {
	Status Status `json:"status,omitempty"`
	Search string `json:"search,omitempty"`
}

type TaskRepository interface {
	FindAll(ctx context.Context, ownerID uint64, f Filter) ([]Task, error)
	Create(ctx context.Context, ownerID uint64, title, description string) (Task, error)
	Find(ctx context.Context, ownerID, taskID uint64) (Task, bool, error)
	Delete(ctx context.Context, ownerID, taskID uint64) (int64, error)
	UpdateStatus(ctx context.Context, task Task) (Task, bool, error)
}

// Auth is the caller identity resolved from the bearer token.
type Auth struct {
	AccessUUID string
	UserID     uint64
	Username   string
}

// StorageError is returned by repositories for any persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFound reports a task that is missing or owned by someone else.
func NotFound(taskID uint64) error {
	return fmt.Errorf("task with ID '%d': %w", taskID, ErrTaskNotFound)
}

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTaskNotFound    = errors.New("task not found")
	ErrInternal        = errors.New("internal server error")
	ErrIdentityMissing = errors.New("identity was not passed through the context")
)
