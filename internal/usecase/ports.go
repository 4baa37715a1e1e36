package usecase

import (
	"context"

	"github.com/pion/rtp"

	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

// JoinResult - ответ POST /sessions/{id}/join
type JoinResult struct {
	Credentials       models.MediaCredentials
	Session           models.Session
	Self              models.Participant
	Roster            []models.Participant
	ChatBacklog       []models.ChatMessage
	SignalingEndpoint string
}

// SessionAPI - REST граница. Ошибки уже сведены к domain.Err*.
type SessionAPI interface {
	Join(ctx context.Context, token, sessionID string) (*JoinResult, error)
}

// SignalingConn - одно установленное соединение сигналинга.
// Receive блокируется до следующего сообщения; Close его разблокирует.
type SignalingConn interface {
	Send(ctx context.Context, msg events.Message) error
	Receive() (events.Message, error)
	Close() error
}

type SignalingDialer interface {
	// Dial возвращает ошибку с domain.ErrAuthExpired, если сервер отверг токен
	Dial(ctx context.Context, endpoint, token string) (SignalingConn, error)
}

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type LocalTrack interface {
	ID() string
	Kind() TrackKind
	SetEnabled(enabled bool) error
	Close() error
}

type LocalVideoTrack interface {
	LocalTrack
	DeviceID() string
	// SetDevice подменяет источник без перепубликации трека
	SetDevice(ctx context.Context, deviceID string) error
}

type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

// RenderTarget - приёмник удалённого видео. Ему соответствуют ivfwriter/oggwriter из pion.
type RenderTarget interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

type Device struct {
	ID    string
	Label string
}

// MediaTransport - SFU клиент. Все методы безопасны для конкурентного вызова.
type MediaTransport interface {
	Join(ctx context.Context, creds models.MediaCredentials) error
	Leave(ctx context.Context) error

	CreateMicrophoneTrack(ctx context.Context) (LocalTrack, error)
	CreateCameraTrack(ctx context.Context, deviceID string) (LocalVideoTrack, error)
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error

	// Subscribe может вернуть nil трек без ошибки: подписка принята, но трек ещё не готов
	Subscribe(ctx context.Context, uid string, kind TrackKind) (RemoteTrack, error)
	// Attach сам повторяет попытку ограниченное число раз; при ошибке target закрыт
	Attach(ctx context.Context, track RemoteTrack, target RenderTarget) error

	RenewToken(ctx context.Context, token string) error
	Cameras(ctx context.Context) ([]Device, error)
	Events() <-chan MediaEvent

	// RecreateAudioOnUnmute сообщает, что выключенный аудиотрек нельзя надёжно включить обратно
	RecreateAudioOnUnmute() bool
}

// MediaTransportFactory создаёт транспорт на один заход в сессию
type MediaTransportFactory func() (MediaTransport, error)

// TranscriptRepository хранит подтверждённые сервером сообщения чата
type TranscriptRepository interface {
	Save(ctx context.Context, sessionID string, msg models.ChatMessage) error
}

// MediaEvent - событие от транспорта
type MediaEvent interface {
	mediaEvent()
}

type MediaStateChanged struct {
	State models.ConnectionState
}

type RemotePublished struct {
	UID  string
	Kind TrackKind
}

type RemoteUnpublished struct {
	UID  string
	Kind TrackKind
}

type RemoteLeft struct {
	UID string
}

// TokenWillExpire - транспорт предупреждает об истечении медиа-токена
type TokenWillExpire struct{}

func (MediaStateChanged) mediaEvent() {}
func (RemotePublished) mediaEvent()   {}
func (RemoteUnpublished) mediaEvent() {}
func (RemoteLeft) mediaEvent()        {}
func (TokenWillExpire) mediaEvent()   {}
