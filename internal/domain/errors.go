package domain

import "errors"

// Ошибки живой сессии. Адаптеры оборачивают их через fmt.Errorf("...: %w", err),
// проверка всегда через errors.Is.
var (
	// ErrPermissionDenied - пользователь запретил доступ к камере/микрофону
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrAuthExpired - токен авторизации невалиден или истёк, нужен повторный вход
	ErrAuthExpired = errors.New("auth expired")

	ErrSessionNotLive = errors.New("session is not live")
	ErrSessionEnded   = errors.New("session ended")

	ErrJoinTimeout     = errors.New("join timeout")
	ErrJoinFailed      = errors.New("join failed")
	ErrMediaInitFailed = errors.New("media init failed")

	// ErrSignalingDisconnected - бюджет переподключений исчерпан или канал закрыт
	ErrSignalingDisconnected = errors.New("signaling disconnected")

	ErrMalformedEvent     = errors.New("malformed event")
	ErrParticipantRemoved = errors.New("participant removed")
	ErrChatRateLimited    = errors.New("chat rate limited")
)

// IsRetryable сообщает, можно ли предложить пользователю ручной повтор.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrJoinTimeout) ||
		errors.Is(err, ErrJoinFailed) ||
		errors.Is(err, ErrMediaInitFailed) ||
		errors.Is(err, ErrSignalingDisconnected)
}

// IsFatal сообщает, что ошибка вытесняет экран сессии целиком.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrSessionNotLive) ||
		errors.Is(err, ErrSessionEnded) ||
		errors.Is(err, ErrParticipantRemoved)
}
