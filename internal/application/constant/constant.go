package constant

// Ключи атрибутов slog
const (
	Error     = "error"
	UserID    = "user_id"
	UserName  = "user_name"
	SessionID = "session_id"
	MessageID = "message_id"
	State     = "state"
	Transport = "transport"
	Event     = "event"
	Attempt   = "attempt"
	TrackID   = "track_id"
	DeviceID  = "device_id"
	RemoteUID = "remote_uid"
	Viewer    = "viewer_id"
)
