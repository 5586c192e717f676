// Package event defines the status-change envelope that crosses the channel
// between the task service and the notifier, its wire codec, the dead-letter
// record, and the retryable/permanent failure classification.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/badya367/taskmanager/internal/task"
)

// StatusChange records that a task moved to a new status. It is built once by
// the task service and never modified.
type StatusChange struct {
	taskID int64
	status task.Status
}

// NewStatusChange builds the envelope for a task's post-update state.
func NewStatusChange(taskID int64, status task.Status) StatusChange {
	return StatusChange{taskID: taskID, status: status}
}

func (e StatusChange) TaskID() int64 { return e.taskID }

func (e StatusChange) Status() task.Status { return e.status }

func (e StatusChange) String() string {
	return fmt.Sprintf("task %d -> %s", e.taskID, e.status)
}

// wireStatusChange is the versionless wire shape: exactly two fields.
// Pointers distinguish a missing field from a zero value.
type wireStatusChange struct {
	ID     *int64  `json:"id"`
	Status *string `json:"status"`
}

// Encode renders the envelope as {"id":<int>,"status":"<TAG>"}.
func Encode(e StatusChange) ([]byte, error) {
	if e.taskID <= 0 {
		return nil, fmt.Errorf("%w: non-positive task id %d", ErrMalformed, e.taskID)
	}
	if !e.status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, e.status)
	}
	id := e.taskID
	s := string(e.status)
	return json.Marshal(wireStatusChange{ID: &id, Status: &s})
}

// MarshalJSON lets an envelope be handed to generic JSON publishers.
func (e StatusChange) MarshalJSON() ([]byte, error) { return Encode(e) }

// Decode parses one envelope. Unknown fields, missing fields, trailing data and
// unknown status tags are rejected; every decode error is permanent.
func Decode(b []byte) (StatusChange, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var w wireStatusChange
	if err := dec.Decode(&w); err != nil {
		return StatusChange{}, Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return StatusChange{}, Permanent(fmt.Errorf("%w: trailing data after envelope", ErrMalformed))
	}
	if w.ID == nil || w.Status == nil {
		return StatusChange{}, Permanent(fmt.Errorf("%w: id and status are required", ErrMalformed))
	}
	if *w.ID <= 0 {
		return StatusChange{}, Permanent(fmt.Errorf("%w: non-positive task id %d", ErrMalformed, *w.ID))
	}
	s := task.Status(*w.Status)
	if !s.Valid() {
		return StatusChange{}, Permanent(fmt.Errorf("%w: %q", ErrUnknownStatus, *w.Status))
	}
	return StatusChange{taskID: *w.ID, status: s}, nil
}
