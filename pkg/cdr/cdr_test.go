package cdr

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop_AcceptsEverything(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(Record{CallID: "x"}))
	assert.NoError(t, p.Close())
}

func TestRecord_JSONShape(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		CallID:      "b3a1",
		Caller:      "alice",
		Callee:      "bob",
		StartTime:   start,
		AnswerTime:  start.Add(3 * time.Second),
		EndTime:     start.Add(63 * time.Second),
		Answered:    true,
		Codec:       "PCMU",
		DurationSec: 60,
	}

	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "b3a1", decoded["call_id"])
	assert.Equal(t, "alice", decoded["caller"])
	assert.Equal(t, "bob", decoded["callee"])
	assert.Equal(t, true, decoded["answered"])
	assert.Equal(t, "PCMU", decoded["codec"])
	assert.Equal(t, float64(60), decoded["duration_sec"])
}

func TestAMQPPublisher_PublishBeforeConnectFails(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	p := NewAMQPPublisher(logger, "amqp://localhost:5672", "cdr")
	assert.False(t, p.IsConnected())
	assert.Error(t, p.Publish(Record{CallID: "x"}))
}

func TestAMQPPublisher_CloseWithoutConnect(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	p := NewAMQPPublisher(logger, "amqp://localhost:5672", "cdr")
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}
