package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

var (
	ErrNoOtherCamera = errors.New("no other camera available")

	// errMediaStopped - операция завершилась после начала остановки и ничего не применила
	errMediaStopped = errors.New("media session stopped")
)

type remoteHandles struct {
	audio RemoteTrack
	video RemoteTrack
}

// MediaSession владеет локальными устройствами и треками на всё время сессии.
// Его состояние подключения отдельно от состояния сигналинга.
type MediaSession struct {
	transport MediaTransport

	state   models.ConnectionState
	mic     LocalTrack
	micLive bool
	camera  LocalVideoTrack
	joined  bool
	stopped bool
	remotes map[string]*remoteHandles
	mu      sync.Mutex
}

func NewMediaSession(transport MediaTransport) *MediaSession {
	return &MediaSession{
		transport: transport,
		state:     models.StateDisconnected,
		remotes:   make(map[string]*remoteHandles),
	}
}

// Start входит в медиа-комнату и публикует локальные треки с учётом начального состояния.
// Ошибки: domain.ErrPermissionDenied (доступ к устройству запрещён) или domain.ErrMediaInitFailed.
func (m *MediaSession) Start(ctx context.Context, creds models.MediaCredentials, muted, videoEnabled bool) error {
	m.SetState(models.StateConnecting)

	if err := m.transport.Join(ctx, creds); err != nil {
		return mediaInitError("join media room", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.leave(ctx)

		return errMediaStopped
	}
	m.joined = true
	m.mu.Unlock()

	mic, err := m.transport.CreateMicrophoneTrack(ctx)
	if err != nil {
		return mediaInitError("create microphone track", err)
	}

	camera, err := m.transport.CreateCameraTrack(ctx, "")
	if err != nil {
		closeTrack(mic)
		return mediaInitError("create camera track", err)
	}

	publish := []LocalTrack{camera}
	if muted {
		if err = mic.SetEnabled(false); err != nil {
			slog.Warn("disable microphone", slog.Any(constant.Error, err))
		}
	} else {
		publish = append(publish, mic)
	}

	if !videoEnabled {
		if err = camera.SetEnabled(false); err != nil {
			slog.Warn("disable camera", slog.Any(constant.Error, err))
		}
	}

	if err = m.transport.Publish(ctx, publish...); err != nil {
		closeTrack(mic)
		closeTrack(camera)

		return mediaInitError("publish local tracks", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		closeTrack(mic)
		closeTrack(camera)

		return errMediaStopped
	}

	m.mic, m.camera, m.micLive = mic, camera, !muted

	return nil
}

// SetMuted: выключение - снять публикацию, затем выключить трек на месте.
// Включение - создать новый трек захвата и опубликовать его; старый закрывается.
func (m *MediaSession) SetMuted(ctx context.Context, muted bool) error {
	m.mu.Lock()
	mic, live, stopped := m.mic, m.micLive, m.stopped
	m.mu.Unlock()

	if stopped {
		return errMediaStopped
	}

	if mic == nil {
		return fmt.Errorf("set muted: %w", domain.ErrMediaInitFailed)
	}

	if muted {
		if live {
			if err := m.transport.Unpublish(ctx, mic); err != nil {
				return fmt.Errorf("unpublish microphone: %w", err)
			}
		}

		if err := mic.SetEnabled(false); err != nil {
			return fmt.Errorf("disable microphone: %w", err)
		}

		m.mu.Lock()
		m.micLive = false
		m.mu.Unlock()

		return nil
	}

	if live {
		return nil
	}

	next := mic

	if m.transport.RecreateAudioOnUnmute() {
		fresh, err := m.transport.CreateMicrophoneTrack(ctx)
		if err != nil {
			return mediaInitError("recreate microphone track", err)
		}

		next = fresh
	} else if err := mic.SetEnabled(true); err != nil {
		return fmt.Errorf("enable microphone: %w", err)
	}

	if err := m.transport.Publish(ctx, next); err != nil {
		if next != mic {
			closeTrack(next)
		}

		return fmt.Errorf("publish microphone: %w", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		closeTrack(next)

		return errMediaStopped
	}
	m.mic, m.micLive = next, true
	m.mu.Unlock()

	if next != mic {
		closeTrack(mic)
	}

	return nil
}

// SetVideoEnabled переключает видеотрек на месте, без перепубликации
func (m *MediaSession) SetVideoEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	camera, stopped := m.camera, m.stopped
	m.mu.Unlock()

	if stopped {
		return errMediaStopped
	}

	if camera == nil {
		return fmt.Errorf("set video: %w", domain.ErrMediaInitFailed)
	}

	if err := camera.SetEnabled(enabled); err != nil {
		return fmt.Errorf("toggle camera: %w", err)
	}

	return nil
}

// SwitchCamera выбирает другое устройство и подменяет источник на существующем треке.
// При трёх и более камерах предпочитает камеру с противоположной стороной по названию.
func (m *MediaSession) SwitchCamera(ctx context.Context, current models.CameraFacing) (models.CameraFacing, error) {
	m.mu.Lock()
	camera, stopped := m.camera, m.stopped
	m.mu.Unlock()

	if stopped {
		return current, errMediaStopped
	}

	if camera == nil {
		return current, fmt.Errorf("switch camera: %w", domain.ErrMediaInitFailed)
	}

	devices, err := m.transport.Cameras(ctx)
	if err != nil {
		return current, fmt.Errorf("enumerate cameras: %w", err)
	}

	next, ok := pickCamera(devices, camera.DeviceID(), current)
	if !ok {
		return current, ErrNoOtherCamera
	}

	if err = camera.SetDevice(ctx, next.ID); err != nil {
		return current, fmt.Errorf("set camera device: %w", err)
	}

	slog.Info("camera switched", slog.String(constant.DeviceID, next.ID))

	if facing := facingOf(next.Label); facing != "" {
		return facing, nil
	}

	return opposite(current), nil
}

// Renew продлевает медиа-токен, не трогая опубликованные треки
func (m *MediaSession) Renew(ctx context.Context, token string) error {
	if err := m.transport.RenewToken(ctx, token); err != nil {
		return fmt.Errorf("renew media token: %w", err)
	}

	return nil
}

// Stop снимает публикацию, закрывает локальные треки и выходит из комнаты.
// Идемпотентен и безопасен из любого состояния.
func (m *MediaSession) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}

	m.stopped = true
	mic, live, camera, joined := m.mic, m.micLive, m.camera, m.joined
	m.mic, m.camera, m.micLive, m.joined = nil, nil, false, false
	m.remotes = make(map[string]*remoteHandles)
	m.mu.Unlock()

	var errs error

	var published []LocalTrack
	if live {
		published = append(published, mic)
	}
	if camera != nil {
		published = append(published, camera)
	}

	if joined && len(published) > 0 {
		errs = multierr.Append(errs, m.transport.Unpublish(ctx, published...))
	}

	if mic != nil {
		errs = multierr.Append(errs, mic.Close())
	}
	if camera != nil {
		errs = multierr.Append(errs, camera.Close())
	}

	if joined {
		errs = multierr.Append(errs, m.transport.Leave(ctx))
	}

	m.setState(models.StateDisconnected)

	return errs
}

// HandleRemotePublished подписывается на трек. true - видео готово к привязке.
func (m *MediaSession) HandleRemotePublished(ctx context.Context, uid string, kind TrackKind) (bool, error) {
	track, err := m.transport.Subscribe(ctx, uid, kind)
	if err != nil {
		return false, fmt.Errorf("subscribe %s of %s: %w", kind, uid, err)
	}

	if track == nil {
		slog.Warn(
			"subscribed track not ready",
			slog.String(constant.RemoteUID, uid),
			slog.String("kind", string(kind)),
		)

		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false, nil
	}

	h, ok := m.remotes[uid]
	if !ok {
		h = &remoteHandles{}
		m.remotes[uid] = h
	}

	switch kind {
	case KindAudio:
		h.audio = track
	case KindVideo:
		h.video = track
	}

	return kind == KindVideo, nil
}

// HandleRemoteUnpublished убирает хэндл. Отсутствие удалённого видео не означает конец сессии.
func (m *MediaSession) HandleRemoteUnpublished(uid string, kind TrackKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.remotes[uid]
	if !ok {
		return
	}

	switch kind {
	case KindAudio:
		h.audio = nil
	case KindVideo:
		h.video = nil
	}

	if h.audio == nil && h.video == nil {
		delete(m.remotes, uid)
	}
}

func (m *MediaSession) HandleRemoteLeft(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.remotes, uid)
}

func (m *MediaSession) Remotes() []models.RemoteParticipant {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.RemoteParticipant, 0, len(m.remotes))
	for uid, h := range m.remotes {
		out = append(out, models.RemoteParticipant{
			UID:      uid,
			HasVideo: h.video != nil,
			HasAudio: h.audio != nil,
		})
	}

	slices.SortFunc(out, func(a, b models.RemoteParticipant) int { return strings.Compare(a.UID, b.UID) })

	return out
}

func (m *MediaSession) HasRemoteVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.remotes {
		if h.video != nil {
			return true
		}
	}

	return false
}

// RemoteVideo возвращает хэндл видео удалённого участника, если он есть
func (m *MediaSession) RemoteVideo(uid string) (RemoteTrack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.remotes[uid]
	if !ok || h.video == nil {
		return nil, false
	}

	return h.video, true
}

func (m *MediaSession) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// SetState - переход по колбэку состояния транспорта
func (m *MediaSession) SetState(state models.ConnectionState) bool {
	m.mu.Lock()
	if m.stopped && state != models.StateDisconnected {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	return m.setState(state)
}

func (m *MediaSession) setState(state models.ConnectionState) bool {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return false
	}
	m.state = state
	m.mu.Unlock()

	metric.SetConnectionState("media", string(state))

	return true
}

func (m *MediaSession) leave(ctx context.Context) {
	if err := m.transport.Leave(ctx); err != nil {
		slog.Warn("leave media room", slog.Any(constant.Error, err))
	}
}

func mediaInitError(op string, err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrAuthExpired) || errors.Is(err, domain.ErrMediaInitFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, domain.ErrMediaInitFailed, err)
}

func closeTrack(t LocalTrack) {
	if t == nil {
		return
	}

	if err := t.Close(); err != nil {
		slog.Warn("close local track", slog.String(constant.TrackID, t.ID()), slog.Any(constant.Error, err))
	}
}

func pickCamera(devices []Device, currentID string, current models.CameraFacing) (Device, bool) {
	var others []Device
	for _, d := range devices {
		if d.ID != currentID {
			others = append(others, d)
		}
	}

	if len(others) == 0 {
		return Device{}, false
	}

	if len(devices) > 2 {
		want := opposite(current)
		for _, d := range others {
			if facingOf(d.Label) == want {
				return d, true
			}
		}
	}

	return others[0], true
}

func facingOf(label string) models.CameraFacing {
	l := strings.ToLower(label)

	switch {
	case strings.Contains(l, "back"), strings.Contains(l, "rear"), strings.Contains(l, "environment"):
		return models.CameraBack
	case strings.Contains(l, "front"), strings.Contains(l, "user"), strings.Contains(l, "face"):
		return models.CameraFront
	default:
		return ""
	}
}

func opposite(f models.CameraFacing) models.CameraFacing {
	if f == models.CameraBack {
		return models.CameraFront
	}

	return models.CameraBack
}
