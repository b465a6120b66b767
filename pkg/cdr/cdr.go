package cdr

import (
	"time"
)

// Record is one call detail record, emitted when a call is torn down.
type Record struct {
	CallID     string    `json:"call_id"`
	Caller     string    `json:"caller"`
	Callee     string    `json:"callee"`
	StartTime  time.Time `json:"start_time"`
	AnswerTime time.Time `json:"answer_time,omitempty"`
	EndTime    time.Time `json:"end_time"`
	Answered   bool      `json:"answered"`
	Codec      string    `json:"codec,omitempty"`

	// DurationSec counts from answer to hangup; zero for unanswered calls.
	DurationSec float64 `json:"duration_sec"`
}

// Publisher delivers call detail records to a billing consumer.
type Publisher interface {
	Publish(rec Record) error
	Close() error
}

// Nop discards every record. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(Record) error { return nil }
func (Nop) Close() error         { return nil }
