package models

// View - снимок состояния сессии для UI
type View struct {
	Session Session               `json:"session"`
	Self    Participant           `json:"self"`
	Local   LocalParticipantState `json:"local"`

	Banner    ConnectionState `json:"banner"`
	Signaling ConnectionState `json:"signaling"`
	Media     ConnectionState `json:"media"`

	Remotes       []RemoteParticipant `json:"remotes"`
	RemoteVideo   bool                `json:"remoteVideo"`
	ScreenSharing bool                `json:"screenSharing"`

	Roster []Participant `json:"roster"`
	Chat   []ChatMessage `json:"chat"`

	Ended bool   `json:"ended"`
	Error string `json:"error,omitempty"`
}
