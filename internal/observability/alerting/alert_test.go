package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "SpriteForge/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, b, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeSynthesisFailed, JobID: "job-1"})
	if err == nil {
		t.Fatalf("expected joined error from failing channel")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, Client: srv.Client()}
	event := Event{
		Code:       xerrors.CodeSynthesisFailed,
		Message:    "provider down",
		JobID:      "job-1",
		Attempts:   3,
		MaxRetries: 3,
		OccurredAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.JobID != "job-1" || got.Code != xerrors.CodeSynthesisFailed || got.Attempts != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}

	n.Headers = nil
	if err := n.Notify(context.Background(), event); err == nil {
		t.Fatalf("expected error on 401")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), Event{Message: "m", Metadata: map[string]string{"stage": "terminal"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
