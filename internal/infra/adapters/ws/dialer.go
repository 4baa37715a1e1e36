package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/usecase"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
)

type dialer struct {
	dialer       *websocket.Dialer
	pingInterval time.Duration
}

// NewDialer возвращает дайлер сигналинга. Сервер должен ответить на ping за 2*pingInterval.
func NewDialer(pingInterval time.Duration) usecase.SignalingDialer {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	return &dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		pingInterval: pingInterval,
	}
}

func (d *dialer) Dial(ctx context.Context, endpoint, token string) (usecase.SignalingConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial signaling: %w", domain.ErrAuthExpired)
		}

		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	readTimeout := 2 * d.pingInterval

	if err = conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c := &signalingConn{
		conn: conn,
		done: make(chan struct{}),
	}

	go c.keepalive(d.pingInterval)

	return c, nil
}

// signalingConn - соединение с сериализованной записью данных, как safeWS
type signalingConn struct {
	conn *websocket.Conn
	mu   sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func (c *signalingConn) Send(ctx context.Context, msg events.Message) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}

	return nil
}

// Receive пропускает кадры, которые не разбираются в Message: соединение от них не рвётся
func (c *signalingConn) Receive() (events.Message, error) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				slog.Info(
					"signaling closed by server",
					slog.Int("code", closeErr.Code),
					slog.String("reason", closeErr.Text),
				)
			}

			return events.Message{}, fmt.Errorf("read signaling: %w", err)
		}

		var msg events.Message
		if err = json.Unmarshal(raw, &msg); err != nil {
			metric.IncrementDroppedEvents()
			slog.Warn(
				"drop signaling frame",
				slog.Any(constant.Error, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)),
			)
			continue
		}

		return msg, nil
	}
}

func (c *signalingConn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)

		err = c.conn.Close()
	})

	return err
}

func (c *signalingConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteControl допускает конкурентный вызов с WriteJSON
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))

			if err != nil {
				slog.Debug("signaling ping failed", slog.Any(constant.Error, err))
				return
			}
		case <-c.done:
			return
		}
	}
}
