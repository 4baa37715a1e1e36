package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/infra/adapters/memory"
	"github.com/qrave1/LiveClass/internal/usecase"
)

// WebSocketHandler стримит снимки сессии всем открытым вкладкам UI
type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	session usecase.SessionUsecase
	viewers memory.ViewerRepository

	pingInterval time.Duration
}

func NewWebSocketHandler(cfg *config.Config, session usecase.SessionUsecase, viewers memory.ViewerRepository) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		session:      session,
		viewers:      viewers,
		pingInterval: 30 * time.Second,
	}
}

// Run рассылает каждый новый снимок всем зрителям до отмены ctx
func (h *WebSocketHandler) Run(ctx context.Context) error {
	views, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case view, ok := <-views:
			if !ok {
				return nil
			}

			h.viewers.Broadcast(view)
		}
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	viewerID := uuid.New()

	h.viewers.Add(viewerID, ws)
	defer h.viewers.Remove(viewerID)

	if err = h.viewers.Write(viewerID, h.session.View()); err != nil {
		slog.Warn("write initial view", slog.Any(constant.Error, err), slog.String(constant.Viewer, viewerID.String()))
		return nil
	}

	readTimeout := 2 * h.pingInterval

	err = ws.SetReadDeadline(time.Now().Add(readTimeout))
	if err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					slog.Debug("ping failed", slog.Any(constant.Error, err))
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	// UI только читает; входящие кадры нужны для pong и закрытия
	for {
		if _, _, err = ws.ReadMessage(); err != nil {
			h.handleWebsocketError(viewerID, err)
			return nil
		}
	}
}

func (h *WebSocketHandler) handleWebsocketError(viewerID uuid.UUID, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("viewer disconnected", slog.String(constant.Viewer, viewerID.String()))
		default:
			slog.Warn("viewer close error", slog.Int("code", closeErr.Code), slog.String(constant.Viewer, viewerID.String()))
		}

		return
	}

	slog.Debug("viewer read", slog.Any(constant.Error, err), slog.String(constant.Viewer, viewerID.String()))
}
