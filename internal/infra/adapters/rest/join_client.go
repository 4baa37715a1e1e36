package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

// joinResponse - тело ответа POST /sessions/{id}/join
type joinResponse struct {
	MediaCredentials  models.MediaCredentials `json:"mediaCredentials"`
	Session           models.Session          `json:"session"`
	Self              models.Participant      `json:"self"`
	Roster            []models.Participant    `json:"roster"`
	ChatBacklog       []models.ChatMessage    `json:"chatBacklog"`
	SignalingEndpoint string                  `json:"signalingEndpoint"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type joinClient struct {
	baseURL string
	client  *http.Client
}

// NewJoinClient создаёт REST клиент. Таймаут задаёт ctx вызывающего.
func NewJoinClient(baseURL string, client *http.Client) usecase.SessionAPI {
	if client == nil {
		client = http.DefaultClient
	}

	return &joinClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *joinClient) Join(ctx context.Context, token, sessionID string) (*usecase.JoinResult, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s/join", c.baseURL, url.PathEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrJoinFailed, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// дедлайн ctx отдаём как есть, его классифицирует вызывающий
		if ctx.Err() != nil {
			return nil, fmt.Errorf("post join: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: post join: %w", domain.ErrJoinFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("post join: %w", domain.ErrAuthExpired)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("post join: %w", domain.ErrSessionNotLive)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: post join: status %d: %s", domain.ErrJoinFailed, resp.StatusCode, readError(resp.Body))
	}

	var body joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode join response: %w", domain.ErrJoinFailed, err)
	}

	if body.Session.ID == "" || body.Self.ID == "" {
		return nil, fmt.Errorf("%w: join response without session or self", domain.ErrJoinFailed)
	}

	return &usecase.JoinResult{
		Credentials:       body.MediaCredentials,
		Session:           body.Session,
		Self:              body.Self,
		Roster:            body.Roster,
		ChatBacklog:       body.ChatBacklog,
		SignalingEndpoint: body.SignalingEndpoint,
	}, nil
}

func readError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}

	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}

	return strings.TrimSpace(string(raw))
}
