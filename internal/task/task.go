// Package task holds the task entity, its status lifecycle and the storage port
// used by the service layer.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of a task. The set is closed.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusNew, StatusInProgress, StatusDone}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusDone:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus parses a wire tag. Tags are case-sensitive.
func ParseStatus(tag string) (Status, error) {
	s := Status(tag)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, tag)
	}
	return s, nil
}

// Task is the managed entity. ID is assigned by the store on first save and
// never changes afterwards.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// Input carries the client-supplied fields for create and update.
type Input struct {
	Title       string `json:"title" validate:"required,notblank"`
	Description string `json:"description"`
	UserID      int64  `json:"user_id" validate:"gte=0"`
	Status      Status `json:"status" validate:"omitempty,oneof=NEW IN_PROGRESS DONE"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate checks the field constraints shared by create and update.
func (in Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	return nil
}

// describe flattens validator output into a short, stable message.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Apply overwrites every client-editable field of t with the values in in.
func (t *Task) Apply(in Input) {
	t.Title = in.Title
	t.Description = in.Description
	t.UserID = in.UserID
	t.Status = in.Status
}
