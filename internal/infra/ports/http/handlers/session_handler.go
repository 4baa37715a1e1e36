package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/dto"
	"github.com/qrave1/LiveClass/internal/usecase"
)

// TranscriptReader - чтение сохранённого журнала чата (memory или postgres)
type TranscriptReader interface {
	List(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

type SessionHandler struct {
	session     usecase.SessionUsecase
	transcripts TranscriptReader
}

func NewSessionHandler(session usecase.SessionUsecase, transcripts TranscriptReader) *SessionHandler {
	return &SessionHandler{
		session:     session,
		transcripts: transcripts,
	}
}

func (h *SessionHandler) State(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.View())
}

func (h *SessionHandler) Join(c echo.Context) error {
	var req dto.JoinRequest
	if err := c.Bind(&req); err != nil || req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}

	view, err := h.session.Join(c.Request().Context(), req.SessionID)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) Rejoin(c echo.Context) error {
	view, err := h.session.Rejoin(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) Leave(c echo.Context) error {
	if err := h.session.Leave(c.Request().Context()); err != nil {
		return errorJSON(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHandler) Mute(c echo.Context) error {
	var req dto.MuteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.session.SetMuted(c.Request().Context(), req.Muted); err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, h.session.View().Local)
}

func (h *SessionHandler) Video(c echo.Context) error {
	var req dto.VideoRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.session.SetVideoEnabled(c.Request().Context(), req.Enabled); err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, h.session.View().Local)
}

func (h *SessionHandler) Hand(c echo.Context) error {
	var req dto.HandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.session.SetHandRaised(c.Request().Context(), req.Raised); err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, h.session.View().Local)
}

func (h *SessionHandler) SwitchCamera(c echo.Context) error {
	if err := h.session.SwitchCamera(c.Request().Context()); err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, h.session.View().Local)
}

func (h *SessionHandler) Chat(c echo.Context) error {
	var req dto.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.session.SendChat(c.Request().Context(), req.Text); err != nil {
		return errorJSON(c, err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (h *SessionHandler) Transcript(c echo.Context) error {
	sessionID := h.session.View().Session.ID
	if sessionID == "" {
		return errorJSON(c, usecase.ErrNotJoined)
	}

	messages, err := h.transcripts.List(c.Request().Context(), sessionID)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, messages)
}
