// hub.go
//
// Fan-out of committed document updates to websocket subscribers.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/notebase/docsync/internal/crdt"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is one broadcast message: the incremental update bytes of a
// committed transaction on a document identity. Duplicating marks updates
// a structural copy produced, so editors can suppress those change events.
type Envelope struct {
	Doc         string `json:"doc"`
	Update      []byte `json:"update"`
	Duplicating bool   `json:"duplicating,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan Envelope
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// Hub tracks live subscribers per document identity and publishes update
// envelopes to them, fire-and-forget: no acknowledgment, and a subscriber
// too slow to drain its buffer is dropped rather than blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish sends the update to every live subscriber of the identity.
func (h *Hub) Publish(key string, update []byte, meta crdt.Meta) {
	env := Envelope{Doc: key, Update: update}
	if dup, ok := meta["duplicating"].(bool); ok {
		env.Duplicating = dup
	}

	h.mu.RLock()
	var slow []*subscriber
	for sub := range h.subs[key] {
		select {
		case sub.send <- env:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Warn().Str("doc", key).Msg("dropping slow websocket subscriber")
		h.remove(key, sub)
	}
}

// SubscriberCount returns the number of live subscribers for an identity.
func (h *Hub) SubscriberCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

func (h *Hub) add(key string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscriber]struct{})
	}
	h.subs[key][sub] = struct{}{}
}

func (h *Hub) remove(key string, sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Handler upgrades requests to websocket subscriptions. The document
// identity comes from the "doc" query parameter.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("doc")
		if key == "" {
			http.Error(w, "doc query parameter is required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to upgrade websocket")
			return
		}

		sub := &subscriber{conn: conn, send: make(chan Envelope, 64)}
		h.add(key, sub)
		log.Info().Str("doc", key).Msg("websocket subscriber connected")

		go h.writeLoop(key, sub)
		h.readLoop(key, sub)
	})
}

// writeLoop drains the send channel onto the connection.
func (h *Hub) writeLoop(key string, sub *subscriber) {
	for env := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := sub.conn.WriteJSON(env); err != nil {
			log.Info().Err(err).Str("doc", key).Msg("websocket write failed")
			break
		}
	}
	sub.conn.Close()
}

// readLoop discards inbound frames and tears the subscriber down on close.
func (h *Hub) readLoop(key string, sub *subscriber) {
	defer func() {
		h.remove(key, sub)
		log.Info().Str("doc", key).Msg("websocket subscriber disconnected")
	}()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
