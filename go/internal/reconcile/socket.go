package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tabsyteam/tabsy-core/go/internal/gateway"
)

// SocketConfig configures the device's realtime connection
type SocketConfig struct {
	// BaseURL is the websocket endpoint, e.g. "ws://localhost:8081/ws"
	BaseURL string
	Token   string

	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultSocketConfig bounds reconnection so the device surfaces a
// terminal disconnect instead of retrying forever
func DefaultSocketConfig(baseURL, token string) SocketConfig {
	return SocketConfig{
		BaseURL:              baseURL,
		Token:                token,
		MaxReconnectAttempts: 5,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           8 * time.Second,
	}
}

// Socket maintains one device's connection to its session room and
// feeds incoming events into the reconciler
type Socket struct {
	config         SocketConfig
	tableSessionID uuid.UUID
	reconciler     *Reconciler
	dialer         *websocket.Dialer
}

func NewSocket(config SocketConfig, tableSessionID uuid.UUID, reconciler *Reconciler) *Socket {
	return &Socket{
		config:         config,
		tableSessionID: tableSessionID,
		reconciler:     reconciler,
		dialer:         websocket.DefaultDialer,
	}
}

// Run connects and processes events until the context is cancelled or
// the reconnect budget is exhausted. A reconnect may have missed events,
// so every (re)connect re-fetches authoritative state first.
func (s *Socket) Run(ctx context.Context) error {
	backoff := s.config.InitialBackoff
	attempts := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempts++
			if attempts >= s.config.MaxReconnectAttempts {
				s.reconciler.HandleTerminalDisconnect()
				return fmt.Errorf("gave up after %d reconnect attempts: %w", attempts, err)
			}
			log.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("backoff", backoff).
				Msg("websocket connect failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.config.MaxBackoff)
			continue
		}

		// Connected: reset the budget and catch up on anything missed
		attempts = 0
		backoff = s.config.InitialBackoff
		if err := s.reconciler.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to refresh state after connect")
		}

		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("table_session_id", s.tableSessionID.String())
	q.Set("token", s.config.Token)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		event, err := decodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if err := s.reconciler.HandleEvent(ctx, event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to apply event")
		}
	}
}

func decodeEvent(data []byte) (*gateway.SessionEvent, error) {
	var event gateway.SessionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	return &event, nil
}
