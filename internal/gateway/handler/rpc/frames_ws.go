package rpc

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vtoframes/internal/gateway/middleware"
	"vtoframes/internal/vto"
)

const (
	framesWSWriteWait = 10 * time.Second
	framesWSPongWait  = 60 * time.Second
	framesWSPingEvery = (framesWSPongWait * 9) / 10
)

func newFramesWSUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Non-browser clients send no Origin.
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
		},
	}
}

type framesWSInbound struct {
	Type          string   `json:"type"`
	RequestID     string   `json:"requestId,omitempty"`
	SKU           string   `json:"sku,omitempty"`
	AvailableSKUs []string `json:"availableSkus,omitempty"`
	SkipCache     bool     `json:"skipCache,omitempty"`
}

type framesWSOutbound struct {
	Type      string        `json:"type"`
	RequestID string        `json:"requestId,omitempty"`
	SKU       string        `json:"sku,omitempty"`
	Frames    *vto.FrameSet `json:"frames,omitempty"`
	Code      string        `json:"code,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// HandleFramesWS streams frame results over a websocket. A "get" message
// starts a prioritized fetch; its answer arrives as "frames" or "error", and
// neighbour warm-ups are reported as "warmed" or "warm_failed". The session
// stays open for as long as the connection does.
func (h *FrameHandler) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	sess, release, err := h.sessions.Hold(p.User, p.Token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer release()

	conn, err := h.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(framesWSPongWait)); err != nil {
		log.Printf("frames ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(framesWSPongWait))
	})

	q := newFramesWSQueue(16, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// A dead writer must unblock pending replies.
		defer cancel()
		ticker := time.NewTicker(framesWSPingEvery)
		defer ticker.Stop()

		write := func(out framesWSOutbound) error {
			if err := conn.SetWriteDeadline(time.Now().Add(framesWSWriteWait)); err != nil {
				return err
			}
			return conn.WriteJSON(out)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-q.replies:
				if err := write(out); err != nil {
					return
				}
			case out := <-q.notices:
				if err := write(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(framesWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	warmCh, stopWarm := sess.WatchWarm()
	defer stopWarm()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-warmCh:
				if res.Err != nil {
					q.notify(errorOutbound("warm_failed", "", res.SKU, res.Err))
					continue
				}
				frames := res.Frames
				q.notify(framesWSOutbound{Type: "warmed", SKU: res.SKU, Frames: &frames})
			}
		}
	}()

	q.reply(ctx, framesWSOutbound{Type: "subscribed"})

	for {
		var in framesWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "":
			q.reply(ctx, framesWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "type is required",
			})
		case "ping":
			q.reply(ctx, framesWSOutbound{Type: "pong", RequestID: in.RequestID})
		case "get":
			sku := strings.TrimSpace(in.SKU)
			if sku == "" {
				q.reply(ctx, framesWSOutbound{
					Type:      "error",
					RequestID: in.RequestID,
					Code:      "invalid_argument",
					Message:   "sku is required",
				})
				continue
			}
			go func(in framesWSInbound) {
				fs, err := sess.Frames.GetFramesWithPriority(ctx, sku, in.AvailableSKUs, in.SkipCache)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					q.reply(ctx, errorOutbound("error", in.RequestID, sku, err))
					return
				}
				q.reply(ctx, framesWSOutbound{Type: "frames", RequestID: in.RequestID, SKU: sku, Frames: &fs})
			}(in)
		default:
			q.reply(ctx, framesWSOutbound{
				Type:      "error",
				RequestID: in.RequestID,
				Code:      "invalid_argument",
				Message:   "unsupported type: " + in.Type,
			})
		}
	}
}

// framesWSQueue feeds the connection writer. Replies wait for room; warm
// notices drop the oldest one when the client falls behind.
type framesWSQueue struct {
	replies chan framesWSOutbound
	notices chan framesWSOutbound
}

func newFramesWSQueue(replies, notices int) *framesWSQueue {
	return &framesWSQueue{
		replies: make(chan framesWSOutbound, replies),
		notices: make(chan framesWSOutbound, notices),
	}
}

// reply reports false when ctx ended before the message was queued.
func (q *framesWSQueue) reply(ctx context.Context, out framesWSOutbound) bool {
	select {
	case q.replies <- out:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *framesWSQueue) notify(out framesWSOutbound) {
	pushFramesWS(q.notices, out)
}

func errorOutbound(typ, requestID, sku string, err error) framesWSOutbound {
	return framesWSOutbound{
		Type:      typ,
		RequestID: requestID,
		SKU:       sku,
		Code:      frameErrorCode(err).String(),
		Kind:      string(vto.KindOf(err)),
		Message:   err.Error(),
	}
}

// pushFramesWS never blocks; when the buffer is full the oldest message is
// dropped.
func pushFramesWS(writeCh chan framesWSOutbound, out framesWSOutbound) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
