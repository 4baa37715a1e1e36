package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

type SignalingConfig struct {
	Endpoint string
	Token    string

	// MaxAttempts - сколько раз всего пробуем подключиться за один эпизод (первый вход или обрыв)
	MaxAttempts uint64
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// SignalingHooks - обратные вызовы канала. Вызываются из горутины канала.
type SignalingHooks struct {
	// OnConnected вызывается при каждом переходе в connected, включая переподключения
	OnConnected func(ctx context.Context) error
	OnAction    func(events.Action)
	OnState     func(models.ConnectionState)
	// OnFailed - канал окончательно отключён: исчерпан бюджет или токен отвергнут
	OnFailed func(err error)
}

// SignalingChannel - постоянное соединение с сервером сигналинга с ограниченным переподключением.
//
// disconnected -> connecting -> connected -> reconnecting -> connected | disconnected
type SignalingChannel struct {
	dialer SignalingDialer
	cfg    SignalingConfig
	hooks  SignalingHooks

	conn   SignalingConn
	state  models.ConnectionState
	closed bool
	mu     sync.RWMutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewSignalingChannel(dialer SignalingDialer, cfg SignalingConfig, hooks SignalingHooks) *SignalingChannel {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}

	return &SignalingChannel{
		dialer: dialer,
		cfg:    cfg,
		hooks:  hooks,
		state:  models.StateDisconnected,
		done:   make(chan struct{}),
	}
}

// Start переводит канал в connecting и подключается в фоне. Не блокируется.
func (c *SignalingChannel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.setState(models.StateConnecting)

	go func() {
		<-ctx.Done()
		c.dropConn()
	}()

	go c.run(ctx)
}

func (c *SignalingChannel) State() models.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Emit отправляет исходящее событие. Без активного соединения возвращает domain.ErrSignalingDisconnected.
func (c *SignalingChannel) Emit(ctx context.Context, eventType string, payload any) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if conn == nil || state != models.StateConnected {
		return fmt.Errorf("emit %s: %w", eventType, domain.ErrSignalingDisconnected)
	}

	msg, err := events.Encode(eventType, payload)
	if err != nil {
		return err
	}

	if err = conn.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w: %w", eventType, domain.ErrSignalingDisconnected, err)
	}

	return nil
}

// Close закрывает соединение и ждёт завершения фоновой горутины. Повторный вызов безопасен.
func (c *SignalingChannel) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.state = models.StateDisconnected
		c.mu.Unlock()

		metric.SetConnectionState("signaling", string(models.StateDisconnected))

		if c.cancel == nil {
			close(c.done)
			return
		}

		c.cancel()

		if conn != nil {
			err = conn.Close()
		}

		<-c.done
	})

	return err
}

func (c *SignalingChannel) run(ctx context.Context) {
	defer close(c.done)

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}

			slog.Error("signaling channel gave up", slog.Any(constant.Error, err))

			c.setState(models.StateDisconnected)

			if c.hooks.OnFailed != nil {
				c.hooks.OnFailed(err)
			}

			return
		}

		err = c.readLoop(conn)
		if ctx.Err() != nil || c.isClosed() {
			return
		}

		slog.Warn("signaling connection dropped", slog.Any(constant.Error, err))

		c.dropConn()
		c.setState(models.StateReconnecting)
	}
}

func (c *SignalingChannel) connect(ctx context.Context) (SignalingConn, error) {
	b := retry.NewExponential(c.cfg.BackoffBase)
	b = retry.WithCappedDuration(c.cfg.BackoffCap, b)
	b = retry.WithMaxRetries(c.cfg.MaxAttempts-1, b)

	var (
		conn    SignalingConn
		attempt int
	)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++

		dialed, err := c.dialer.Dial(ctx, c.cfg.Endpoint, c.cfg.Token)
		if err != nil {
			metric.RecordReconnectAttempt(false)

			if errors.Is(err, domain.ErrAuthExpired) {
				return err
			}

			slog.Warn(
				"dial signaling",
				slog.Int(constant.Attempt, attempt),
				slog.Any(constant.Error, err),
			)

			return retry.RetryableError(err)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = dialed.Close()

			return context.Canceled
		}
		c.conn = dialed
		c.mu.Unlock()

		c.setState(models.StateConnected)

		if c.hooks.OnConnected != nil {
			if err = c.hooks.OnConnected(ctx); err != nil {
				metric.RecordReconnectAttempt(false)
				c.dropConn()
				c.setState(models.StateReconnecting)

				return retry.RetryableError(fmt.Errorf("announce presence: %w", err))
			}
		}

		metric.RecordReconnectAttempt(true)
		conn = dialed

		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) || ctx.Err() != nil {
			return nil, err
		}

		return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrSignalingDisconnected, attempt, err)
	}

	return conn, nil
}

func (c *SignalingChannel) readLoop(conn SignalingConn) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			return err
		}

		action, err := events.Decode(msg)
		if err != nil {
			metric.IncrementDroppedEvents()
			slog.Warn(
				"drop signaling event",
				slog.String(constant.Event, msg.Type),
				slog.Any(constant.Error, err),
			)

			continue
		}

		if c.hooks.OnAction != nil {
			c.hooks.OnAction(action)
		}
	}
}

func (c *SignalingChannel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}

func (c *SignalingChannel) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Debug("close signaling connection", slog.Any(constant.Error, err))
		}
	}
}

func (c *SignalingChannel) setState(state models.ConnectionState) {
	c.mu.Lock()
	if c.state == state || (c.closed && state != models.StateDisconnected) {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	metric.SetConnectionState("signaling", string(state))

	if c.hooks.OnState != nil {
		c.hooks.OnState(state)
	}
}
