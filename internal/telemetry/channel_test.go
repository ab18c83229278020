// Copyright (c) 2026, Classpulse Labs.
//
// Classpulse Labs licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/classpulse/engage-agent/pkg/core"
	"github.com/gorilla/websocket"
)

type wsServer struct {
	*httptest.Server
	upgrades int64
	inbound  chan []byte
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		inbound: make(chan []byte, 16),
		conns:   make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt64(&s.upgrades, 1)
		s.conns <- conn
		go func() {
			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				s.inbound <- payload
			}
		}()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsBase() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestConnectRequiresToken(t *testing.T) {
	c := New("ws://unused", 1, "", testLogger(), nil)
	err := c.Connect(context.Background())
	if !errors.Is(err, core.ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
	if c.State() != core.ConnDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
}

func TestConnectIsNoOpWhileConnected(t *testing.T) {
	srv := newWSServer(t)
	c := New(srv.wsBase(), 1, "tok", testLogger(), nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&srv.upgrades); got != 1 {
		t.Fatalf("expected 1 upgrade, got %d", got)
	}
	if c.State() != core.ConnConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
}

func TestSendSampleCarriesAllFields(t *testing.T) {
	srv := newWSServer(t)
	c := New(srv.wsBase(), 1, "tok", testLogger(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := c.SendSample(context.Background(), core.VisionSample{
		ImageBase64:               "aGVsbG8=",
		Participation:             0.7,
		AttendanceConsistency:     0.9,
		InteractionRecencySeconds: 12,
		InteractionEvents:         4,
		MovementIntensity:         0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case payload := <-srv.inbound:
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded["type"] != "vision_sample" {
			t.Fatalf("expected vision_sample, got %v", decoded["type"])
		}
		for _, field := range []string{
			"image_base64", "participation", "attendance_consistency",
			"interaction_recency_seconds", "interaction_events", "movement_intensity",
		} {
			if _, ok := decoded[field]; !ok {
				t.Fatalf("missing field %s in %s", field, payload)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the sample")
	}
}

func TestSendWithoutConnect(t *testing.T) {
	c := New("ws://unused", 1, "tok", testLogger(), nil)
	err := c.SendSample(context.Background(), core.VisionSample{})
	if !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestAckUpdatesCallback(t *testing.T) {
	srv := newWSServer(t)
	c := New(srv.wsBase(), 1, "tok", testLogger(), nil)

	acks := make(chan core.VisionAck, 1)
	c.SetAckFunc(func(a core.VisionAck) { acks <- a })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn := <-srv.conns
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"signal_ack","vision":{"face_visible":true,"face_count":1,"confidence":0.83}}`))

	select {
	case ack := <-acks:
		if ack.FaceVisible == nil || !*ack.FaceVisible {
			t.Fatal("expected face_visible true")
		}
		if ack.Confidence == nil || *ack.Confidence != 0.83 {
			t.Fatal("expected confidence 0.83")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestServerErrorKeepsSocketOpen(t *testing.T) {
	srv := newWSServer(t)
	c := New(srv.wsBase(), 1, "tok", testLogger(), nil)

	serverErrs := make(chan string, 1)
	acks := make(chan core.VisionAck, 1)
	c.SetServerErrorFunc(func(d string) { serverErrs <- d })
	c.SetAckFunc(func(a core.VisionAck) { acks <- a })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn := <-srv.conns
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","detail":"image too large"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"signal_ack","vision":{}}`))

	select {
	case detail := <-serverErrs:
		if detail != "image too large" {
			t.Fatalf("expected server detail, got %q", detail)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error callback never fired")
	}
	// A subsequent message still arrives: the socket stayed open.
	select {
	case <-acks:
	case <-time.After(2 * time.Second):
		t.Fatal("socket appears closed after server error")
	}
	if c.State() != core.ConnConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
}

func TestUnknownMessagesIgnored(t *testing.T) {
	srv := newWSServer(t)
	c := New(srv.wsBase(), 1, "tok", testLogger(), nil)

	acks := make(chan core.VisionAck, 1)
	c.SetAckFunc(func(a core.VisionAck) { acks <- a })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn := <-srv.conns
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"signal_ack","vision":{}}`))

	select {
	case <-acks:
	case <-time.After(2 * time.Second):
		t.Fatal("channel died on unknown or malformed input")
	}
}

func TestCloseThenReconnect(t *testing.T) {
	srv := newWSServer(t)
	c := New(srv.wsBase(), 1, "tok", testLogger(), nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Close()
	if c.State() != core.ConnDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if got := atomic.LoadInt64(&srv.upgrades); got != 2 {
		t.Fatalf("expected 2 upgrades, got %d", got)
	}
}
