package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	OrderID string `json:"orderId"`
}

// OrderEventsWSHandler handles /v1/orders/events/ws. Clients send
// connection_init, then subscribe messages carrying an optional orderId;
// an empty orderId subscribes to the firehose of all order events.
func (s *Server) OrderEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		orderID string
		ch      chan OrderEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	write := func(v any) error { return conn.WriteJSON(v) }

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			// firehose is operator-only; single-order streams are open to the
			// order's tenant
			pr := s.getPrincipal(r)
			if pl.OrderID == "" && !pr.CanOperate() {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"forbidden"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			ch := s.Broker.Subscribe(pl.OrderID)
			subs[msg.ID] = sub{orderID: pl.OrderID, ch: ch}
			go func(id string, c chan OrderEvent) {
				for evt := range c {
					payload, _ := json.Marshal(evt)
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if sb, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(sb.orderID, sb.ch)
				delete(subs, msg.ID)
			}
		}
	}
	for _, sb := range subs {
		s.Broker.Unsubscribe(sb.orderID, sb.ch)
	}
}
