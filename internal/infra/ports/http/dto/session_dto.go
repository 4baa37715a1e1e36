package dto

type JoinRequest struct {
	SessionID string `json:"session_id"`
}

type MuteRequest struct {
	Muted bool `json:"muted"`
}

type VideoRequest struct {
	Enabled bool `json:"enabled"`
}

type HandRequest struct {
	Raised bool `json:"raised"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

// ErrorResponse - retryable подсказывает UI показать кнопку повтора, fatal - закрыть экран сессии
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
	Fatal     bool   `json:"fatal"`
}
