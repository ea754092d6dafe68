// Package main runs a demo WebSocket client for order status events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create an order
	body := []byte(`{"recipientName":"Demo Customer","phone":"07901234567","address":"12 Demo Street","itemCount":1,"totalAmount":30000}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var order struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		log.Fatal(err)
	}
	if order.ID == "" {
		log.Fatal("no order id returned")
	}
	log.Printf("Order ID: %s", order.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/orders/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to this order's events
	pl, _ := json.Marshal(map[string]any{"orderId": order.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an event by moving the order forward
	time.Sleep(500 * time.Millisecond)
	upd := []byte(`{"status":"dispatch_eligible","changedBy":"demo"}`)
	updReq, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/v1/orders/%s/status", base, order.ID), bytes.NewReader(upd))
	updReq.Header.Set("Content-Type", "application/json")
	updReq.Header.Set("X-Tenant-Id", "t_demo")
	updReq.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(updReq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
