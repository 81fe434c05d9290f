package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errReconnecting = errors.New("signal channel reconnecting")

// Dialer opens authenticated channels to the relay.
type Dialer struct {
	cfg config.Signal
	// MinBackoff is the first redial delay; it doubles up to cfg.MaxBackoff.
	MinBackoff time.Duration

	ws  *websocket.Dialer
	log zerolog.Logger
}

func NewDialer(cfg config.Signal, log zerolog.Logger) *Dialer {
	return &Dialer{
		cfg:        withDefaults(cfg),
		MinBackoff: time.Second,
		ws:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        log.With().Str("module", "signal.client").Logger(),
	}
}

// Connect resolves once the relay welcomed auth. A session:error answer
// comes back as *core.RelayRejectedError.
func (d *Dialer) Connect(ctx context.Context, endpoint string, auth domain.AuthPayload) (core.SignalChannel, error) {
	scope, err := auth.Session()
	if err != nil {
		return nil, err
	}
	life, cancel := context.WithCancel(context.Background())
	c := &Channel{
		d:        d,
		endpoint: endpoint,
		auth:     auth,
		log:      d.log.With().Str("session", scope.Key()).Str("user", string(auth.UserID)).Logger(),
		life:     life,
		cancel:   cancel,
	}
	c.inbox = NewInbox(c.log)

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		c.inbox.Close()
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.start(conn)
	c.log.Info().Str("endpoint", endpoint).Msg("channel connected")
	return c, nil
}

// Channel is the client end of one relay session. At most one websocket is
// live at a time; a lost one is redialed until Disconnect.
type Channel struct {
	d        *Dialer
	endpoint string
	auth     domain.AuthPayload
	log      zerolog.Logger
	inbox    *Inbox

	life   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *WsSignalConn
	reconnect []func()
	closed    bool
}

func (c *Channel) On(event string, h core.SignalHandler) { c.inbox.On(event, h) }

func (c *Channel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = append(c.reconnect, fn)
}

func (c *Channel) Emit(event string, payload any) error {
	frame, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return core.ErrChannelClosed
	case conn == nil:
		return errReconnecting
	}
	if err := conn.TrySend(frame); err != nil {
		if errors.Is(err, errConnClosed) {
			return errReconnecting
		}
		return err
	}
	return nil
}

func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.inbox.Close()
	c.log.Info().Msg("channel disconnected")
}

// dial opens a websocket and completes the auth handshake on it.
func (c *Channel) dial(ctx context.Context) (*WsSignalConn, error) {
	ws, _, err := c.d.ws.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	err = c.handshake(ws)
	if !stop() {
		_ = ws.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	ws.SetReadLimit(c.d.cfg.ReadLimit)
	return newWsSignalConn(ws, c.d.cfg.SendBuffer), nil
}

func (c *Channel) handshake(ws *websocket.Conn) error {
	frame, err := encode(core.EventAuth, c.auth)
	if err != nil {
		return err
	}
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	if err := ws.SetReadDeadline(time.Now().Add(c.d.cfg.PongWait)); err != nil {
		return err
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await welcome: %w", err)
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decode welcome: %w", err)
		}
		switch env.Type {
		case core.EventWelcome:
			return nil
		case core.EventError:
			var p core.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			return &core.RelayRejectedError{Code: p.Code, Message: p.Message}
		default:
			// traffic from peers can overtake the welcome
			c.inbox.Push(core.Message{Event: env.Type, From: env.From, Payload: env.Payload})
		}
	}
}
