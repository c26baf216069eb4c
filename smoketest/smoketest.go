// Package smoketest checks that a simulation server answers viewers.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/extent"
	qwebsocket "github.com/aukilabs/quadtree/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	DefaultTimeout = time.Second * 10
)

// Request is the body of a smoke test request.
type Request struct {
	// The server to test. Defaults to the server running the test.
	Endpoint string `json:"endpoint,omitempty"`

	TimeoutMS int `json:"timeout_ms,omitempty"`

	// The area watched during the test. Defaults to the world center.
	Rect *extent.Rect `json:"rect,omitempty"`
}

// Result is the outcome of a smoke test.
type Result struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Tick            uint64  `json:"tick"`
	Nodes           int     `json:"nodes"`
	Bodies          int     `json:"bodies"`
	Error           string  `json:"error,omitempty"`
}

type Options struct {
	// The public endpoint of the server running the test.
	Endpoint string

	UserAgent string

	// Called with the result of each test.
	SendResult func(context.Context, Result) error
}

// HandleSmokeTest starts a smoke test in the background and responds
// immediately. The result is reported with opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		go func() {
			res, err := Run(ctx, opts.Endpoint, opts.UserAgent, req)
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", res.FromEndpoint).
					WithTag("to_endpoint", res.ToEndpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusAccepted)
	}
}

// Run connects to a server as a viewer, pings it and waits for a frame of
// the requested area.
func Run(ctx context.Context, fromEndpoint, userAgent string, req Request) (Result, error) {
	res := Result{
		FromEndpoint: fromEndpoint,
		ToEndpoint:   req.Endpoint,
		Status:       StatusFailed,
	}
	if res.ToEndpoint == "" {
		res.ToEndpoint = fromEndpoint
	}

	if err := run(ctx, userAgent, req, &res); err != nil {
		res.Error = err.Error()
		return res, errors.New("smoke test failed").
			WithTag("from_endpoint", res.FromEndpoint).
			WithTag("to_endpoint", res.ToEndpoint).
			Wrap(err)
	}

	res.Status = StatusSuccess
	return res, nil
}

func run(ctx context.Context, userAgent string, req Request, res *Result) error {
	timeout := DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	origin := res.FromEndpoint
	if origin == "" {
		origin = "http://localhost"
	}

	config, err := websocket.NewConfig(websocketURL(res.ToEndpoint), origin)
	if err != nil {
		return errors.New("creating websocket config failed").Wrap(err)
	}
	if userAgent != "" {
		config.Header.Set("User-Agent", userAgent)
	}

	conn, err := config.DialContext(ctx)
	if err != nil {
		return errors.New("dialing server failed").Wrap(err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	start := time.Now()
	if err := send(conn, qwebsocket.MsgTypePing, qwebsocket.PingRequest{RequestID: 1}); err != nil {
		return err
	}

	var pong qwebsocket.PongResponse
	if err := receive(conn, qwebsocket.MsgTypePong, &pong); err != nil {
		return err
	}
	res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000

	rect := extent.NewRect(-500, -500, 500, 500)
	if req.Rect != nil {
		rect = *req.Rect
	}
	if err := send(conn, qwebsocket.MsgTypeView, qwebsocket.ViewRequest{
		RequestID: 2,
		Rect:      rect,
		Nodes:     true,
		Bodies:    true,
	}); err != nil {
		return err
	}

	var frame qwebsocket.Frame
	if err := receive(conn, qwebsocket.MsgTypeFrame, &frame); err != nil {
		return err
	}
	res.Tick = frame.Tick
	res.Nodes = len(frame.Nodes)
	res.Bodies = len(frame.Bodies)
	return nil
}

func send(conn *websocket.Conn, msgType string, data any) error {
	msg, err := qwebsocket.MakeMsg(msgType, data)
	if err != nil {
		return err
	}

	if _, err := qwebsocket.Send(conn, msg); err != nil {
		return errors.New("sending message failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}
	return nil
}

// receive reads messages until one of the given type arrives. Error messages
// fail the test.
func receive(conn *websocket.Conn, msgType string, v any) error {
	for {
		msg, _, err := qwebsocket.Receive(conn)
		if err != nil {
			return errors.New("receiving message failed").
				WithTag("msg_type", msgType).
				Wrap(err)
		}

		switch msg.Type {
		case msgType:
			return msg.DataTo(v)

		case qwebsocket.MsgTypeError:
			var res qwebsocket.ErrorResponse
			msg.DataTo(&res)
			return errors.New("server rejected request").
				WithTag("msg_type", msgType).
				WithTag("code", res.Code).
				WithTag("message", res.Message)
		}
	}
}

func websocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}
