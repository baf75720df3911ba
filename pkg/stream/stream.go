// Package stream fans analysis results out to websocket subscribers, for
// live dashboards.
package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hacp-router/pkg/hacp"
)

const (
	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

type Message struct {
	Type      string               `json:"type"`
	AccountID string               `json:"account_id,omitempty"`
	Analysis  *hacp.AnalysisResult `json:"analysis,omitempty"`
}

type subscriber struct {
	ch chan Message
}

type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), log: log}
}

// Publish never blocks. A subscriber whose buffer is full misses the message.
func (h *Hub) Publish(accountID string, r hacp.AnalysisResult) {
	msg := Message{Type: "analysis", AccountID: accountID, Analysis: &r}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- msg:
		default:
			h.log.Warn("stream subscriber lagging, dropping message", "action_id", r.Action.ID)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{ch: make(chan Message, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// ServeHTTP upgrades to a websocket and streams messages until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("stream: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// the feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client disconnects
	ctx := conn.CloseRead(r.Context())

	s := h.subscribe()
	defer h.unsubscribe(s)

	if err := h.write(ctx, conn, Message{Type: "hello"}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-s.ch:
			if err := h.write(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) == -1 {
					h.log.Debug("stream: write", "err", err)
				}
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
