package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

// MediaController - часть медиа-сессии, которой управляет реконсилятор
type MediaController interface {
	SetMuted(ctx context.Context, muted bool) error
	SetVideoEnabled(ctx context.Context, enabled bool) error
	SwitchCamera(ctx context.Context, current models.CameraFacing) (models.CameraFacing, error)
}

// Announcer - исходящие события сигналинга
type Announcer interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

type presence struct {
	muted        bool
	videoEnabled bool
}

// Reconciler - единственный владелец LocalParticipantState.
//
// Любая запись, локальная или от преподавателя, идёт через сеттер атрибута:
// обновить модель, применить к медиа, объявить итог по сигналингу.
// Записи одного атрибута сериализуются, разные атрибуты идут параллельно.
type Reconciler struct {
	sessionID string
	announcer Announcer
	onChange  func(models.LocalParticipantState)

	muteMu   sync.Mutex
	videoMu  sync.Mutex
	handMu   sync.Mutex
	cameraMu sync.Mutex

	// appliedMuted/appliedVideo - что реально сделано в медиа; под muteMu/videoMu
	appliedMuted bool
	appliedVideo bool

	state  models.LocalParticipantState
	media  MediaController
	closed bool
	mu     sync.Mutex

	announced  *presence
	announceMu sync.Mutex
}

func NewReconciler(
	sessionID string,
	initial models.LocalParticipantState,
	announcer Announcer,
	onChange func(models.LocalParticipantState),
) *Reconciler {
	return &Reconciler{
		sessionID: sessionID,
		announcer: announcer,
		onChange:  onChange,
		state:     initial,
	}
}

func (r *Reconciler) State() models.LocalParticipantState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Reconciler) SetMuted(ctx context.Context, muted bool) error {
	return r.setFlag(ctx, &r.muteMu, &r.appliedMuted, "muted",
		func(s *models.LocalParticipantState) *bool { return &s.Muted },
		func(ctx context.Context, m MediaController, v bool) error { return m.SetMuted(ctx, v) },
		muted,
	)
}

func (r *Reconciler) SetVideoEnabled(ctx context.Context, enabled bool) error {
	return r.setFlag(ctx, &r.videoMu, &r.appliedVideo, "video_enabled",
		func(s *models.LocalParticipantState) *bool { return &s.VideoEnabled },
		func(ctx context.Context, m MediaController, v bool) error { return m.SetVideoEnabled(ctx, v) },
		enabled,
	)
}

// SetHandRaised отправляет raise-hand; при ошибке отправки модель откатывается
func (r *Reconciler) SetHandRaised(ctx context.Context, raised bool) error {
	r.handMu.Lock()
	defer r.handMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	prev := r.state.HandRaised
	if prev == raised {
		r.mu.Unlock()
		return nil
	}
	r.state.HandRaised = raised
	r.mu.Unlock()

	err := r.announcer.Emit(ctx, events.TypeRaiseHand, events.RaiseHandEvent{SessionID: r.sessionID, Raised: raised})
	if err != nil {
		r.mu.Lock()
		r.state.HandRaised = prev
		r.mu.Unlock()

		return fmt.Errorf("raise hand: %w", err)
	}

	r.changed()

	return nil
}

// AckHand применяет подтверждение сервера без повторной отправки
func (r *Reconciler) AckHand(raised bool) {
	r.handMu.Lock()
	defer r.handMu.Unlock()

	r.mu.Lock()
	if r.closed || r.state.HandRaised == raised {
		r.mu.Unlock()
		return
	}
	r.state.HandRaised = raised
	r.mu.Unlock()

	r.changed()
}

func (r *Reconciler) SwitchCamera(ctx context.Context) error {
	r.cameraMu.Lock()
	defer r.cameraMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	media, current := r.media, r.state.CameraFacing
	r.mu.Unlock()

	if media == nil {
		return fmt.Errorf("switch camera: %w", domain.ErrMediaInitFailed)
	}

	facing, err := media.SwitchCamera(ctx, current)
	if err != nil {
		if r.isClosed() {
			return nil
		}

		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.state.CameraFacing = facing
	r.mu.Unlock()

	r.changed()

	return nil
}

// MediaReady подключает запущенную медиа-сессию и доприменяет то,
// что изменилось в модели пока медиа поднималось.
func (r *Reconciler) MediaReady(ctx context.Context, media MediaController, startedMuted, startedVideo bool) error {
	r.muteMu.Lock()
	defer r.muteMu.Unlock()
	r.videoMu.Lock()
	defer r.videoMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.media = media
	r.appliedMuted, r.appliedVideo = startedMuted, startedVideo
	want := r.state
	r.mu.Unlock()

	var (
		errs     error
		reverted bool
	)

	// не применилось - модель возвращается к тому, что реально в медиа
	if want.Muted != r.appliedMuted {
		if err := media.SetMuted(ctx, want.Muted); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply buffered mute: %w", err))
			reverted = r.revert(func(s *models.LocalParticipantState) *bool { return &s.Muted }, r.appliedMuted)
		} else {
			r.appliedMuted = want.Muted
		}
	}

	if want.VideoEnabled != r.appliedVideo {
		if err := media.SetVideoEnabled(ctx, want.VideoEnabled); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply buffered video: %w", err))
			reverted = r.revert(func(s *models.LocalParticipantState) *bool { return &s.VideoEnabled }, r.appliedVideo) || reverted
		} else {
			r.appliedVideo = want.VideoEnabled
		}
	}

	if reverted {
		r.changed()
		errs = multierr.Append(errs, r.Announce(ctx, false))
	}

	return errs
}

func (r *Reconciler) revert(field func(*models.LocalParticipantState) *bool, value bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	*field(&r.state) = value

	return true
}

// Announce отправляет set-presence. Без force - только если состояние изменилось с прошлой отправки.
func (r *Reconciler) Announce(ctx context.Context, force bool) error {
	r.announceMu.Lock()
	defer r.announceMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	p := presence{muted: r.state.Muted, videoEnabled: r.state.VideoEnabled}
	r.mu.Unlock()

	if !force && r.announced != nil && *r.announced == p {
		return nil
	}

	err := r.announcer.Emit(ctx, events.TypeSetPresence, events.PresenceEvent{
		SessionID:    r.sessionID,
		Muted:        p.muted,
		VideoEnabled: p.videoEnabled,
	})
	if err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}

	r.announced = &p

	return nil
}

// Remove - кик: статус removed, дальнейшие записи игнорируются
func (r *Reconciler) Remove() {
	r.mu.Lock()
	if r.state.Removed() {
		r.mu.Unlock()
		return
	}
	r.state.Status = models.ParticipantRemoved
	r.closed = true
	r.mu.Unlock()

	r.changed()
}

// Close блокирует дальнейшие записи при обычном выходе
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
}

func (r *Reconciler) setFlag(
	ctx context.Context,
	lock *sync.Mutex,
	applied *bool,
	name string,
	field func(*models.LocalParticipantState) *bool,
	drive func(context.Context, MediaController, bool) error,
	value bool,
) error {
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	prev := *field(&r.state)
	if prev == value {
		r.mu.Unlock()
		return nil
	}
	*field(&r.state) = value
	media := r.media
	r.mu.Unlock()

	if media != nil && *applied != value {
		if err := drive(ctx, media, value); err != nil {
			if r.isClosed() {
				return nil
			}

			r.mu.Lock()
			*field(&r.state) = prev
			r.mu.Unlock()

			return fmt.Errorf("set %s: %w", name, err)
		}

		*applied = value
	}

	if r.isClosed() {
		return nil
	}

	r.changed()

	if err := r.Announce(ctx, false); err != nil {
		// сервер получит актуальное состояние при следующем подключении
		slog.Warn("announce presence", slog.String(constant.State, name), slog.Any(constant.Error, err))
	}

	return nil
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

func (r *Reconciler) changed() {
	if r.onChange != nil {
		r.onChange(r.State())
	}
}
