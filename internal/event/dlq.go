package event

import "time"

const DLQType = "task.status_change.dlq"

// DeadLetter is published for every envelope of a batch that was skipped
// without a successful dispatch.
type DeadLetter struct {
	Type      string `json:"type"`    // "task.status_change.dlq"
	Version   string `json:"version"` // schema version
	At        string `json:"at"`      // RFC3339 time the dead letter was emitted
	Reason    string `json:"reason"`  // classification label, see Reason
	Attempt   int    `json:"attempt"` // dispatch attempts made for the batch
	LastError string `json:"last_error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Payload   string `json:"payload"` // raw envelope bytes; may not be valid JSON
}

func NewDeadLetter(payload []byte, messageID string, attempt int, lastErr error, reason string) DeadLetter {
	dl := DeadLetter{
		Type:      DLQType,
		Version:   "v1",
		At:        time.Now().Format(time.RFC3339Nano),
		Reason:    reason,
		Attempt:   attempt,
		MessageID: messageID,
		Payload:   string(payload),
	}
	if lastErr != nil {
		dl.LastError = lastErr.Error()
	}
	return dl
}
