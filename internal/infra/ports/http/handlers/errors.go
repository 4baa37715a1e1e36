package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/dto"
	"github.com/qrave1/LiveClass/internal/usecase"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{usecase.ErrEmptyMessage, http.StatusBadRequest},
	{domain.ErrAuthExpired, http.StatusUnauthorized},
	{domain.ErrPermissionDenied, http.StatusForbidden},
	{domain.ErrParticipantRemoved, http.StatusForbidden},
	{usecase.ErrNoRemoteVideo, http.StatusNotFound},
	{usecase.ErrNotJoined, http.StatusConflict},
	{usecase.ErrAlreadyJoined, http.StatusConflict},
	{usecase.ErrCannotRejoin, http.StatusConflict},
	{usecase.ErrNoOtherCamera, http.StatusConflict},
	{domain.ErrSessionNotLive, http.StatusConflict},
	{domain.ErrSessionEnded, http.StatusGone},
	{domain.ErrChatRateLimited, http.StatusTooManyRequests},
	{domain.ErrJoinFailed, http.StatusBadGateway},
	{domain.ErrMediaInitFailed, http.StatusBadGateway},
	{domain.ErrSignalingDisconnected, http.StatusServiceUnavailable},
	{domain.ErrJoinTimeout, http.StatusGatewayTimeout},
}

func statusOf(err error) int {
	for _, s := range errorStatuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}

	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error(
			"handle request",
			slog.Any(constant.Error, err),
			slog.String("uri", c.Request().RequestURI),
		)
	}

	return c.JSON(status, dto.ErrorResponse{
		Error:     err.Error(),
		Retryable: domain.IsRetryable(err),
		Fatal:     domain.IsFatal(err),
	})
}
