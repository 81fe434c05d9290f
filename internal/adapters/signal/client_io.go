package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/gorilla/websocket"
)

func (c *Channel) start(conn *WsSignalConn) {
	go c.writePump(conn)
	go c.readPump(conn)
}

func (c *Channel) writePump(conn *WsSignalConn) {
	ticker := time.NewTicker(c.d.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.life.Done():
			return
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("writePump ping")
				conn.Close()
				return
			}
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("writePump write error")
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) readPump(conn *WsSignalConn) {
	defer c.lost(conn)

	ws := conn.conn
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.d.cfg.PongWait))
	})
	for {
		if err := ws.SetReadDeadline(time.Now().Add(c.d.cfg.PongWait)); err != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("bad json from relay")
			continue
		}
		if env.Type == core.EventPong {
			continue
		}
		c.inbox.Push(core.Message{Event: env.Type, From: env.From, Payload: env.Payload})
	}
}

// lost runs when conn's reader exits. Unless the channel was disconnected it
// starts redialing.
func (c *Channel) lost(conn *WsSignalConn) {
	conn.Close()
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	c.log.Warn().Msg("relay connection lost, redialing")
	go c.redial()
}

func (c *Channel) redial() {
	delay := c.d.MinBackoff
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := c.dial(c.life)
		if err == nil {
			c.resume(conn, attempt)
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("next", delay).Msg("redial failed")
		if c.life.Err() != nil {
			return
		}
		delay *= 2
		if delay > c.d.cfg.MaxBackoff {
			delay = c.d.cfg.MaxBackoff
		}
	}
}

// resume swaps in the new socket, drops the stale handler table and lets the
// owner bind again.
func (c *Channel) resume(conn *WsSignalConn, attempt int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.inbox.Reset()
	c.conn = conn
	callbacks := append([]func(){}, c.reconnect...)
	c.mu.Unlock()

	c.start(conn)
	c.log.Info().Int("attempt", attempt).Msg("channel reconnected")
	for _, fn := range callbacks {
		fn()
	}
}
