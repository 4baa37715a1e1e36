package models

// SessionStatus - статус живого занятия на сервере
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Session - кэшированная копия занятия, обновляется только при (пере)входе
type Session struct {
	ID      string        `json:"id"`
	Status  SessionStatus `json:"status"`
	Title   string        `json:"title"`
	Subject string        `json:"subject"`
	Teacher Participant   `json:"teacher"`
}

func (s Session) IsLive() bool {
	return s.Status == SessionLive
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MediaCredentials - креды для входа в медиа-комнату SFU
type MediaCredentials struct {
	AppID       string `json:"appId"`
	Token       string `json:"token"`
	ChannelName string `json:"channelName"`
	UID         string `json:"uid"`

	// Endpoint - адрес SFU, если сервер его выдаёт; иначе берётся из конфига
	Endpoint string `json:"endpoint,omitempty"`
}
