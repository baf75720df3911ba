package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hacp-router/pkg/events"
	"github.com/hacp-router/pkg/retry"
)

// HTTPSink posts hints as JSON to a webhook URL.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSink) Send(ctx context.Context, hint Hint) error {
	body, err := json.Marshal(hint)
	if err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HACP-Action-ID", hint.ActionID)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s returned %d: %s", s.url, resp.StatusCode, bytes.TrimSpace(msg))
		// client errors will not improve on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}
	return nil
}

// EventSink hands escalations to the message bus the notification channel
// listens on.
type EventSink struct {
	publisher events.Publisher
	topic     string
}

func NewEventSink(p events.Publisher, topic string) *EventSink {
	return &EventSink{publisher: p, topic: topic}
}

func (s *EventSink) Send(ctx context.Context, hint Hint) error {
	return s.publisher.Publish(ctx, s.topic, events.FromResult(events.TypeEscalation, hint.AccountID, hint.Result()))
}
