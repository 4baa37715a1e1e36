package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

// Внутренние события цикла
type (
	signalingStateChanged struct{ state models.ConnectionState }
	runFailed             struct{ err error }
	renewDue              struct{}
)

const transcriptSaveTimeout = 5 * time.Second

// liveRun - один заход в сессию. Все входящие события сигналинга и медиа
// проходят через inbox и обрабатываются одной горутиной.
type liveRun struct {
	u *sessionUsecase

	sessionID string
	self      models.Participant

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    chan any
	loopDone chan struct{}

	transcriptCh chan models.ChatMessage

	transport MediaTransport
	channel   *SignalingChannel
	media     *MediaSession
	rec       *Reconciler

	tornDown     atomic.Bool
	teardownOnce sync.Once
	renewing     atomic.Bool

	session       models.Session
	roster        []models.Participant
	screenSharing bool
	ended         bool
	err           error
	serverError   string
	renewTimer    *time.Timer
	mu            sync.RWMutex
}

func newLiveRun(
	u *sessionUsecase,
	sessionID string,
	res *JoinResult,
	transport MediaTransport,
	local models.LocalParticipantState,
	endpoint string,
) *liveRun {
	ctx, cancel := context.WithCancel(context.Background())

	r := &liveRun{
		u:            u,
		sessionID:    sessionID,
		self:         res.Self,
		session:      res.Session,
		roster:       append([]models.Participant(nil), res.Roster...),
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan any, 64),
		loopDone:     make(chan struct{}),
		transcriptCh: make(chan models.ChatMessage, 64),
		transport:    transport,
	}

	cfg := u.cfg.Signaling
	cfg.Endpoint = endpoint
	cfg.Token = u.cfg.Token

	r.channel = NewSignalingChannel(u.dialer, cfg, SignalingHooks{
		OnConnected: r.onSignalingConnected,
		OnAction:    func(a events.Action) { r.dispatch(a) },
		OnState:     func(s models.ConnectionState) { r.dispatch(signalingStateChanged{state: s}) },
		OnFailed:    func(err error) { r.dispatch(runFailed{err: err}) },
	})

	r.rec = NewReconciler(sessionID, local, r.channel, func(models.LocalParticipantState) { u.publish() })
	r.media = NewMediaSession(transport)

	return r
}

func (r *liveRun) startLoop() {
	go r.loop()
	go r.pumpMedia()

	if r.u.transcripts != nil {
		go r.writeTranscripts()
	}
}

func (r *liveRun) dispatch(item any) {
	select {
	case r.inbox <- item:
	case <-r.ctx.Done():
	}
}

func (r *liveRun) loop() {
	defer close(r.loopDone)

	for {
		select {
		case <-r.ctx.Done():
			return
		case item := <-r.inbox:
			r.handle(item)
		}
	}
}

func (r *liveRun) pumpMedia() {
	ch := r.transport.Events()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			r.dispatch(ev)
		}
	}
}

func (r *liveRun) handle(item any) {
	log := slog.With(slog.String(constant.SessionID, r.sessionID))

	switch ev := item.(type) {
	case events.ChatReceived:
		outcome := r.u.chat.Receive(ev.Message)
		metric.RecordChat(string(outcome))

		if outcome != ChatDuplicate && r.u.transcripts != nil {
			select {
			case r.transcriptCh <- ev.Message:
			default:
				log.Warn("transcript queue full", slog.String(constant.MessageID, ev.Message.ID))
			}
		}

	case events.ParticipantJoined:
		r.upsertParticipant(ev.Participant)

	case events.ParticipantLeft:
		r.removeParticipant(ev.ID)

	case events.SessionEnded:
		if ev.SessionID != "" && ev.SessionID != r.sessionID {
			log.Debug("session-ended for another session", slog.String("other", ev.SessionID))
			return
		}

		r.finish(domain.ErrSessionEnded)

	case events.ForceMute:
		metric.RecordModeration(events.TypeForceMute)

		if !r.targetsSelf(ev.UserID) {
			return
		}

		if err := r.rec.SetMuted(r.ctx, ev.Muted); err != nil {
			log.Error("apply force-mute", slog.Any(constant.Error, err))
		}

	case events.ForceVideo:
		metric.RecordModeration(events.TypeForceVideo)

		if !r.targetsSelf(ev.UserID) {
			return
		}

		if err := r.rec.SetVideoEnabled(r.ctx, ev.VideoEnabled); err != nil {
			log.Error("apply force-video", slog.Any(constant.Error, err))
		}

	case events.ForceKick:
		metric.RecordModeration(events.TypeForceKick)

		if ev.UserID != r.self.ID {
			return
		}

		log.Info("removed by teacher")

		r.rec.Remove()
		r.finish(domain.ErrParticipantRemoved)

	case events.HandRaiseAck:
		r.rec.AckHand(ev.Raised)

	case events.ScreenShareChanged:
		if ev.UserID == r.self.ID {
			return
		}

		r.mu.Lock()
		r.screenSharing = ev.Active
		r.mu.Unlock()

	case events.ServerError:
		log.Warn("signaling error event", slog.String("message", ev.Message))

		r.mu.Lock()
		r.serverError = ev.Message
		r.mu.Unlock()

	case signalingStateChanged:
		log.Info("signaling state", slog.String(constant.State, string(ev.state)))

	case runFailed:
		r.finish(ev.err)

	case MediaStateChanged:
		if !r.media.SetState(ev.State) {
			return
		}

		log.Info("media state", slog.String(constant.State, string(ev.State)))

	case RemotePublished:
		ready, err := r.media.HandleRemotePublished(r.ctx, ev.UID, ev.Kind)
		if err != nil {
			log.Error("subscribe remote track", slog.String(constant.RemoteUID, ev.UID), slog.Any(constant.Error, err))
			return
		}

		if ready {
			r.u.requestAttach(ev.UID)
		}

	case RemoteUnpublished:
		r.media.HandleRemoteUnpublished(ev.UID, ev.Kind)

	case RemoteLeft:
		r.media.HandleRemoteLeft(ev.UID)

	case TokenWillExpire, renewDue:
		r.renew()
		return

	default:
		log.Warn("unhandled event", slog.Any(constant.Event, item))
		return
	}

	r.u.publish()
}

// onSignalingConnected - на каждом переходе в connected заново входим в комнату и объявляем состояние
func (r *liveRun) onSignalingConnected(ctx context.Context) error {
	if err := r.channel.Emit(ctx, events.TypeJoinRoom, events.RoomEvent{SessionID: r.sessionID}); err != nil {
		return err
	}

	return r.rec.Announce(ctx, true)
}

// targetsSelf - пустой userId означает команду на всю комнату
func (r *liveRun) targetsSelf(userID string) bool {
	return userID == "" || userID == r.self.ID
}

func (r *liveRun) finish(cause error) {
	slog.Warn(
		"session finished",
		slog.String(constant.SessionID, r.sessionID),
		slog.Any(constant.Error, cause),
	)

	r.teardown(cause)
}

// teardown безусловно освобождает всё: медиа, сигналинг, таймеры.
// Запускается один раз; операции, завершившиеся после неё, ничего не применяют.
func (r *liveRun) teardown(cause error) {
	r.teardownOnce.Do(func() {
		r.tornDown.Store(true)
		r.rec.Close()

		r.mu.Lock()
		if cause != nil && r.err == nil {
			r.err = cause
		}
		if errors.Is(cause, domain.ErrSessionEnded) {
			r.ended = true
		}
		if r.renewTimer != nil {
			r.renewTimer.Stop()
		}
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.u.cfg.TeardownTimeout)
		defer cancel()

		var errs error

		if r.channel.State() == models.StateConnected {
			errs = multierr.Append(errs, r.channel.Emit(ctx, events.TypeLeaveRoom, events.RoomEvent{SessionID: r.sessionID}))
		}

		r.cancel()

		errs = multierr.Append(errs, r.media.Stop(ctx))
		errs = multierr.Append(errs, r.channel.Close())

		for _, err := range multierr.Errors(errs) {
			slog.Warn(
				"teardown",
				slog.String(constant.SessionID, r.sessionID),
				slog.Any(constant.Error, err),
			)
		}

		r.u.publish()
	})
}

func (r *liveRun) wait(ctx context.Context) {
	select {
	case <-r.loopDone:
	case <-ctx.Done():
	}
}

func (r *liveRun) finished() bool {
	return r.tornDown.Load()
}

func (r *liveRun) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.err
}

func (r *liveRun) armRenewal(token string) {
	d, ok := renewDelay(token, r.u.cfg.RenewLead, time.Now())
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tornDown.Load() {
		return
	}

	if r.renewTimer != nil {
		r.renewTimer.Stop()
	}

	r.renewTimer = time.AfterFunc(d, func() { r.dispatch(renewDue{}) })
}

// renew получает свежие креды тем же join-вызовом и продлевает токен без переподключения медиа
func (r *liveRun) renew() {
	if r.finished() || !r.renewing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer r.renewing.Store(false)

		ctx, cancel := context.WithTimeout(r.ctx, r.u.cfg.JoinTimeout)
		defer cancel()

		log := slog.With(slog.String(constant.SessionID, r.sessionID))

		res, err := r.u.api.Join(ctx, r.u.cfg.Token, r.sessionID)
		if err != nil {
			if errors.Is(err, domain.ErrAuthExpired) {
				r.dispatch(runFailed{err: err})
				return
			}

			log.Error("renew credentials", slog.Any(constant.Error, err))
			return
		}

		if r.finished() {
			return
		}

		if err = r.media.Renew(ctx, res.Credentials.Token); err != nil {
			log.Error("renew media token", slog.Any(constant.Error, err))
			return
		}

		r.mu.Lock()
		r.session = res.Session
		r.mu.Unlock()

		r.armRenewal(res.Credentials.Token)

		log.Info("media credentials renewed")
	}()
}

func (r *liveRun) writeTranscripts() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.transcriptCh:
			ctx, cancel := context.WithTimeout(r.ctx, transcriptSaveTimeout)

			if err := r.u.transcripts.Save(ctx, r.sessionID, msg); err != nil {
				slog.Error(
					"save chat transcript",
					slog.String(constant.MessageID, msg.ID),
					slog.Any(constant.Error, err),
				)
			}

			cancel()
		}
	}
}

func (r *liveRun) upsertParticipant(p models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.roster {
		if r.roster[i].ID == p.ID {
			r.roster[i] = p
			return
		}
	}

	r.roster = append(r.roster, p)
}

func (r *liveRun) removeParticipant(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.roster {
		if r.roster[i].ID == id {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			return
		}
	}
}

func (r *liveRun) view() models.View {
	r.mu.RLock()
	session := r.session
	roster := append([]models.Participant(nil), r.roster...)
	screenSharing, ended := r.screenSharing, r.ended
	errMsg := r.serverError
	if r.err != nil {
		errMsg = r.err.Error()
	}
	r.mu.RUnlock()

	signaling, media := r.channel.State(), r.media.State()

	return models.View{
		Session:       session,
		Self:          r.self,
		Local:         r.rec.State(),
		Banner:        models.Banner(signaling, media),
		Signaling:     signaling,
		Media:         media,
		Remotes:       r.media.Remotes(),
		RemoteVideo:   r.media.HasRemoteVideo(),
		ScreenSharing: screenSharing,
		Roster:        roster,
		Chat:          r.u.chat.Messages(),
		Ended:         ended,
		Error:         errMsg,
	}
}
