package models

type CameraFacing string

const (
	CameraFront CameraFacing = "front"
	CameraBack  CameraFacing = "back"
)

type ParticipantStatus string

const (
	ParticipantActive  ParticipantStatus = "active"
	ParticipantRemoved ParticipantStatus = "removed"
)

// LocalParticipantState - собственное состояние клиента. Меняется только через сеттеры реконсилятора.
type LocalParticipantState struct {
	Muted        bool              `json:"muted"`
	VideoEnabled bool              `json:"videoEnabled"`
	HandRaised   bool              `json:"handRaised"`
	CameraFacing CameraFacing      `json:"cameraFacing"`
	Status       ParticipantStatus `json:"status"`
}

func NewLocalParticipantState() LocalParticipantState {
	return LocalParticipantState{
		VideoEnabled: true,
		CameraFacing: CameraFront,
		Status:       ParticipantActive,
	}
}

func (s LocalParticipantState) Removed() bool {
	return s.Status == ParticipantRemoved
}

// RemoteParticipant - удалённый издатель медиа (преподаватель)
type RemoteParticipant struct {
	UID      string `json:"uid"`
	HasVideo bool   `json:"hasVideo"`
	HasAudio bool   `json:"hasAudio"`
}
