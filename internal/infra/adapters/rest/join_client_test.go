package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

const joinBody = `{
	"mediaCredentials": {"appId": "app", "token": "media-token", "channelName": "abc123", "uid": "u1"},
	"session": {"id": "abc123", "status": "live", "title": "Algebra", "subject": "math",
		"teacher": {"id": "t1", "name": "Mrs. Smith", "role": "teacher"}},
	"self": {"id": "u1", "name": "Ann", "role": "student"},
	"roster": [{"id": "t1", "name": "Mrs. Smith", "role": "teacher"}],
	"chatBacklog": [{"id": "m1", "senderId": "t1", "senderName": "Mrs. Smith", "senderRole": "teacher",
		"text": "welcome", "timestamp": "2026-10-15T10:00:00Z"}],
	"signalingEndpoint": "wss://rt.example.com/ws"
}`

func TestJoinClient_Join(t *testing.T) {
	var gotAuth, gotPath, gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(joinBody))
	}))
	defer srv.Close()

	res, err := NewJoinClient(srv.URL+"/api/v1/", srv.Client()).Join(context.Background(), "tok", "abc123")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/api/v1/sessions/abc123/join", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)

	assert.Equal(t, "media-token", res.Credentials.Token)
	assert.True(t, res.Session.IsLive())
	assert.Equal(t, "t1", res.Session.Teacher.ID)
	assert.Equal(t, models.RoleStudent, res.Self.Role)
	require.Len(t, res.Roster, 1)
	require.Len(t, res.ChatBacklog, 1)
	assert.Equal(t, "m1", res.ChatBacklog[0].ID)
	assert.Equal(t, "wss://rt.example.com/ws", res.SignalingEndpoint)
}

func TestJoinClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"token expired"}`, want: domain.ErrAuthExpired},
		{name: "not live", status: http.StatusConflict, body: `{"error":"session not live"}`, want: domain.ErrSessionNotLive},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, want: domain.ErrJoinFailed},
		{name: "not found", status: http.StatusNotFound, body: `{"error":"no such session"}`, want: domain.ErrJoinFailed},
		{name: "garbage body", status: http.StatusOK, body: `{"session":`, want: domain.ErrJoinFailed},
		{name: "empty body", status: http.StatusOK, body: `{}`, want: domain.ErrJoinFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewJoinClient(srv.URL, srv.Client()).Join(context.Background(), "tok", "abc123")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJoinClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewJoinClient(srv.URL, srv.Client()).Join(ctx, "tok", "abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrJoinFailed)
}
