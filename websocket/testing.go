package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

// NewTestingEnv creates a testing environment to unit test viewer handlers.
// It returns a connected viewer and a function that closes the environment.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	client, close := newTestingEnv(t, newHandler)
	return client, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	config, err := websocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://"),
		"http://localhost",
	)
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}

	config.Header.Set("User-Agent", "ted")
	config.Header.Set(xForwardedForHeaderKey, "192.0.0.0")
	config.Header.Set(HeaderClientID, uuid.NewString())

	client, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	return client, func() {
		client.Close()
		server.Close()
	}
}

// ReceiveType reads messages until one of the given type arrives, or fails
// the test after timeout.
func ReceiveType(t *testing.T, conn *websocket.Conn, msgType string, timeout time.Duration) Msg {
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		msg, _, err := Receive(conn)
		if err != nil {
			t.Fatalf("error receiving %s message: %s", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

// SendMsg sends a message with the given data, failing the test on error.
func SendMsg(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	msg, err := MakeMsg(msgType, data)
	if err != nil {
		t.Fatalf("error creating %s message: %s", msgType, err)
	}

	if _, err := Send(conn, msg); err != nil {
		t.Fatalf("error sending %s message: %s", msgType, err)
	}
}

func newTestHandler(world World, viewRate float64, viewBurst int) func() Handler {
	return func() Handler {
		var h Handler = &ViewerHandler{
			World:             world,
			ClientIdleTimeout: time.Minute,
			FrameDuration:     time.Millisecond * 20,
			ViewRate:          rate.Limit(viewRate),
			ViewBurst:         viewBurst,
			MaxBodies:         100,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://quadtree-test.com")
		return h
	}
}
