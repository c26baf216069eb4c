package websocket

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/simulation"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	MsgTypePing     = "ping"
	MsgTypePong     = "pong"
	MsgTypeView     = "view"
	MsgTypeFrame    = "frame"
	MsgTypeStats    = "stats"
	MsgTypeError    = "error"
	MsgTypeUnknown  = "unknown"
	ErrTypeMsgSkip  = "websocket_msg_skip"
	ErrTypeBadMsg   = "websocket_bad_msg"
	ErrTypeRejected = "websocket_rejected"
)

// Msg is a message exchanged with a viewer. Data holds the JSON encoded
// payload of the message type.
type Msg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MakeMsg creates a message with the JSON encoded data.
func MakeMsg(msgType string, data any) (Msg, error) {
	msg := Msg{Type: msgType}
	if data == nil {
		return msg, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return Msg{}, errors.New("encoding message data failed").
			WithType(ErrTypeBadMsg).
			WithTag("msg_type", msgType).
			Wrap(err)
	}
	msg.Data = b
	return msg, nil
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeBadMsg).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// TypeString returns the message type, or "unknown" when not set.
func (m Msg) TypeString() string {
	if m.Type == "" {
		return MsgTypeUnknown
	}
	return m.Type
}

// PingRequest is sent by viewers to measure latency.
type PingRequest struct {
	RequestID uint32 `json:"request_id"`
}

// PongResponse answers a ping.
type PongResponse struct {
	RequestID uint32    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ViewRequest sets the area a viewer receives frames for.
type ViewRequest struct {
	RequestID uint32      `json:"request_id"`
	Rect      extent.Rect `json:"rect"`
	Nodes     bool        `json:"nodes"`
	Bodies    bool        `json:"bodies"`
}

// Frame is pushed to viewers once per frame duration.
type Frame = simulation.Snapshot

// ErrorResponse reports a rejected request.
type ErrorResponse struct {
	RequestID uint32 `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
}

// Sender sends a message and returns the number of bytes written.
type Sender func(Msg) (int, error)

// Receiver receives a message and returns the number of bytes read.
type Receiver func() (Msg, int, error)

// ResponseSender queues messages for a connected viewer.
type ResponseSender interface {
	Send(Msg)
}

// Send writes a message as a text frame.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.New("encoding message failed").
			WithType(ErrTypeBadMsg).
			WithTag("msg_type", msg.TypeString()).
			Wrap(err)
	}

	if err := websocket.Message.Send(conn, string(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Receive reads a message.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var b []byte
	if err := websocket.Message.Receive(conn, &b); err != nil {
		return Msg{}, 0, err
	}

	var msg Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return Msg{}, len(b), errors.New("decoding message failed").
			WithType(ErrTypeBadMsg).
			Wrap(err)
	}
	return msg, len(b), nil
}
