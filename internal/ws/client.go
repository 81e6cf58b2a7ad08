package ws

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// writePump is the only writer of raw. It drains the member queue, keeps the
// peer alive with pings and closes raw once c has left its room.
func (s *WsServer) writePump(c *Conn, raw *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			_ = raw.Close(websocket.StatusGoingAway, "left room")
			return

		case f := <-c.send:
			if err := s.write(raw, f); err != nil {
				zap.L().Debug("ws.write", zap.String("conn", c.ID), zap.Error(err))
				s.reg.Leave(c)
				_ = raw.CloseNow()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteWait)
			err := raw.Ping(ctx)
			cancel()
			if err != nil {
				zap.L().Debug("ws.ping", zap.String("conn", c.ID), zap.Error(err))
				s.reg.Leave(c)
				_ = raw.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

func (s *WsServer) write(raw *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteWait)
	defer cancel()
	return raw.Write(ctx, f.Type, f.Data)
}
