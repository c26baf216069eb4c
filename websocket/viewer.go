package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/simulation"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

// HeaderClientID is the request header carrying a viewer id. An id is
// generated when it is missing.
const HeaderClientID = "X-Client-ID"

// World is the simulation watched by viewers.
type World interface {
	Snapshot(view extent.Rect, opts simulation.SnapshotOptions) simulation.Snapshot
	Stats() simulation.Stats
}

// ViewerHandler streams the part of a world a viewer looks at.
type ViewerHandler struct {
	// The world to stream.
	World World

	// The time a viewer is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a frame.
	FrameDuration time.Duration

	// The number of view requests a viewer can send per second, and in a
	// burst.
	ViewRate  rate.Limit
	ViewBurst int

	// The maximum number of bodies in a frame. 0 means no limit.
	MaxBodies int

	// The largest view area a viewer can request. 0 means no limit.
	MaxViewArea float32

	conn     *websocket.Conn
	clientID string
	limiter  *rate.Limiter
	view     *ViewRequest
}

func (h *ViewerHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	if req := conn.Request(); req != nil {
		h.clientID = req.Header.Get(HeaderClientID)
	}
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}

	burst := h.ViewBurst
	if burst <= 0 {
		burst = 1
	}
	viewRate := h.ViewRate
	if viewRate == 0 {
		viewRate = rate.Inf
	}
	h.limiter = rate.NewLimiter(viewRate, burst)
}

func (h *ViewerHandler) HandleDisconnect(error) {
	h.view = nil
}

func (h *ViewerHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req PingRequest
	if err := msg.DataTo(&req); err != nil {
		respond.Send(errorMsg(0, ErrTypeBadMsg, err.Error()))
		return err
	}

	pong, err := MakeMsg(MsgTypePong, PongResponse{
		RequestID: req.RequestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	respond.Send(pong)
	return nil
}

func (h *ViewerHandler) HandleView(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ViewRequest
	if err := msg.DataTo(&req); err != nil {
		respond.Send(errorMsg(0, ErrTypeBadMsg, err.Error()))
		return err
	}

	if !h.limiter.Allow() {
		respond.Send(errorMsg(req.RequestID, ErrTypeRejected, "too many view requests"))
		return errors.New("view request rate limited").
			WithType(ErrTypeMsgSkip).
			WithTag("client_id", h.clientID)
	}

	if !req.Rect.Valid() {
		respond.Send(errorMsg(req.RequestID, ErrTypeBadMsg, "invalid view rectangle"))
		return errors.New("invalid view rectangle").
			WithType(ErrTypeBadMsg).
			WithTag("rect", req.Rect)
	}

	if area := req.Rect.Width() * req.Rect.Height(); h.MaxViewArea > 0 && area > h.MaxViewArea {
		respond.Send(errorMsg(req.RequestID, ErrTypeRejected, "view too large"))
		return errors.New("view too large").
			WithType(ErrTypeMsgSkip).
			WithTag("area", area).
			WithTag("max_area", h.MaxViewArea)
	}

	h.view = &req
	return h.SendFrame(ctx, respond)
}

func (h *ViewerHandler) HandleStats(ctx context.Context, respond ResponseSender, msg Msg) error {
	stats, err := MakeMsg(MsgTypeStats, h.World.Stats())
	if err != nil {
		return err
	}
	respond.Send(stats)
	return nil
}

func (h *ViewerHandler) SendFrame(ctx context.Context, respond ResponseSender) error {
	if h.view == nil {
		return nil
	}

	frame := h.World.Snapshot(h.view.Rect, simulation.SnapshotOptions{
		Nodes:     h.view.Nodes,
		Bodies:    h.view.Bodies,
		MaxBodies: h.MaxBodies,
	})

	msg, err := MakeMsg(MsgTypeFrame, frame)
	if err != nil {
		return err
	}
	respond.Send(msg)
	return nil
}

func (h *ViewerHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		return Receive(h.conn)
	}
}

func (h *ViewerHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		return Send(h.conn, msg)
	}
}

func (h *ViewerHandler) Close() {
}

func (h *ViewerHandler) FrameInterval() time.Duration {
	return h.FrameDuration
}

func (h *ViewerHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *ViewerHandler) GetClientID() string {
	return h.clientID
}
