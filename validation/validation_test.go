package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentials struct {
	Username string `json:"username" validate:"required,min=4,max=20"`
	Password string `json:"password" validate:"required,min=8,max=20,password"`
}

type task struct {
	Title  string `json:"title" validate:"notblank"`
	Status string `json:"status,omitempty" validate:"omitempty,oneof=OPEN IN_PROGRESS DONE"`
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(credentials{Username: "alice", Password: "Secret123"}))
	assert.NoError(t, Struct(credentials{Username: "alice", Password: "Secret!!"}))
	assert.NoError(t, Struct(task{Title: "Buy milk"}))
	assert.NoError(t, Struct(task{Title: "Buy milk", Status: "DONE"}))
}

func TestStructViolations(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
		want    []Violation
	}{
		{
			"missing fields",
			credentials{},
			[]Violation{
				{"username", "The username field is required."},
				{"password", "The password field is required."},
			},
		},
		{
			"too short",
			credentials{Username: "al", Password: "Ab1"},
			[]Violation{
				{"username", "The username must be at least 4 characters."},
				{"password", "The password must be at least 8 characters."},
			},
		},
		{
			"weak password",
			credentials{Username: "alice", Password: "alllowercase"},
			[]Violation{{"password", "The password is too weak."}},
		},
		{
			"blank title and unknown status",
			task{Title: "   ", Status: "LATER"},
			[]Violation{
				{"title", "The title field is required."},
				{"status", "The status must be one of: OPEN IN_PROGRESS DONE."},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.payload)

			var verr *Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Violations)
		})
	}
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { must(nil) })
	assert.PanicsWithError(t, "bad rule", func() { must(errors.New("bad rule")) })

	v := newValidator()
	err := v.Struct(task{Title: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notblank")
}
