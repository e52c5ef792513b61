package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sis-request-api/pkg/config"
)

type sentNotification struct {
	Recipient string
	Template  string
	Payload   map[string]interface{}
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
	err   error
	calls chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(chan struct{}, 64)}
}

func (r *recordingNotifier) Notify(ctx context.Context, recipient, templateKey string, payload map[string]interface{}) error {
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		r.calls <- struct{}{}
	}()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentNotification{Recipient: recipient, Template: templateKey, Payload: payload})
	return nil
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Template
	}
	return out
}

func TestLogNotifierWritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), "user-42", NotificationRequestApproved, map[string]interface{}{"request_number": "EXR-2026-00001"}))
	entries := logs.FilterMessage("notification dispatched").All()
	require.Len(t, entries, 1)
	require.Equal(t, "user-42", entries[0].ContextMap()["recipient"])
	require.Equal(t, NotificationRequestApproved, entries[0].ContextMap()["template"])
}

func TestQueuedNotifierDeliversAsynchronously(t *testing.T) {
	sink := newRecordingNotifier()
	n := NewQueuedNotifier(sink, config.NotificationConfig{Enabled: true, WorkerConcurrency: 1, WorkerRetries: 1, QueueSize: 4}, NewMetricsService(), nil)
	n.Start(context.Background())
	defer n.Stop()

	require.NoError(t, n.Notify(context.Background(), "user-42", NotificationRequestSubmitted, nil))
	select {
	case <-sink.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	require.Equal(t, []string{NotificationRequestSubmitted}, sink.templates())
}

func TestQueuedNotifierRetriesFailures(t *testing.T) {
	sink := newRecordingNotifier()
	sink.err = errors.New("smtp down")
	n := NewQueuedNotifier(sink, config.NotificationConfig{Enabled: true, WorkerConcurrency: 1, WorkerRetries: 1, QueueSize: 4}, nil, nil)
	n.Start(context.Background())
	defer n.Stop()

	require.NoError(t, n.Notify(context.Background(), "user-42", NotificationRequestRejected, nil))
	select {
	case <-sink.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not attempted")
	}
	require.Empty(t, sink.templates())
}

func TestQueuedNotifierDisabled(t *testing.T) {
	sink := newRecordingNotifier()
	n := NewQueuedNotifier(sink, config.NotificationConfig{Enabled: false}, nil, nil)
	n.Start(context.Background())
	defer n.Stop()

	require.NoError(t, n.Notify(context.Background(), "user-42", NotificationRequestSubmitted, nil))
	require.Empty(t, sink.templates())
}
