package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBufferMerge(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Merge(Sample{Key: "cpu", Value: 0.5}, false))
	require.NoError(t, b.Merge(Sample{Key: "evt", Value: "x"}, true))
	require.NoError(t, b.Merge(Sample{Key: "cpu", Value: 0.7}, false))
	require.NoError(t, b.Merge(Sample{Key: "evt", Value: "y"}, true))

	assert.Equal(t, map[string]any{
		"cpu": 0.7,
		"evt": []any{"x", "y"},
	}, b.Payload())
	assert.Equal(t, 2, b.Len())

	assert.Error(t, b.Merge(Sample{Key: "cpu", Value: 0.9}, true))
	assert.Equal(t, 0.7, b.Payload()["cpu"])

	b.Clear()
	assert.Zero(t, b.Len())
	// the mode binding ends with the clear
	assert.NoError(t, b.Merge(Sample{Key: "cpu", Value: 0.9}, true))
}

func TestReporter(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewReporter(zap.New(core), true)

	assert.True(t, r.Report(StatusException, "a"))
	assert.False(t, r.Report(StatusException, "b"))
	assert.True(t, r.Report(StatusHTTPCodeNotOK, "c"))
	assert.Equal(t, StatusHTTPCodeNotOK, r.Last())

	r.Reset()
	assert.Equal(t, StatusOK, r.Last())
	assert.True(t, r.Report(StatusHTTPCodeNotOK, "d"))

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"a", "c", "d"}, messages)
}

func TestStatusAndStateNames(t *testing.T) {
	assert.Equal(t, "response_status_not_ok", StatusResponseStatusNotOK.String())
	assert.Equal(t, "discarded", StatusDiscarded.String())
	assert.Equal(t, "unknown", Status(99).String())
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "terminated", StateTerminated.String())
}
