// Package consumer drives the batch consume loop: poll a batch, dispatch every
// envelope in order, then acknowledge, retry, skip or release it as a unit.
package consumer

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("source closed")

// Responder settles a message with the broker.
type Responder interface {
	Finish()
	Requeue(delay time.Duration)
	Touch()
}

type Message struct {
	ID       string
	Body     []byte
	Attempts uint16
	resp     Responder
}

func NewMessage(id string, body []byte, attempts uint16, resp Responder) *Message {
	return &Message{ID: id, Body: body, Attempts: attempts, resp: resp}
}

func (m *Message) Finish()                     { m.resp.Finish() }
func (m *Message) Requeue(delay time.Duration) { m.resp.Requeue(delay) }
func (m *Message) Touch()                      { m.resp.Touch() }

// Source yields batches of messages in receipt order. Poll blocks up to
// timeout for the first message and returns an empty batch when none
// arrives. Poll is only called from the loop goroutine.
type Source interface {
	Poll(ctx context.Context, max, maxBytes int, timeout time.Duration) ([]*Message, error)
	Close() error
}
