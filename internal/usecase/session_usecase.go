package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

var (
	ErrNotJoined     = errors.New("not joined to a session")
	ErrAlreadyJoined = errors.New("already joined to a session")
	ErrEmptyMessage  = errors.New("empty chat message")
	ErrNoRemoteVideo = errors.New("no remote video for participant")
	ErrCannotRejoin  = errors.New("session cannot be rejoined")
)

type SessionConfig struct {
	// Token - учётные данные пользователя, передаются явно во все вызовы
	Token string

	JoinTimeout time.Duration
	// SignalingURL перекрывает адрес из ответа join, если задан
	SignalingURL string
	Signaling    SignalingConfig

	ChatDedupWindow time.Duration
	ChatRate        float64
	ChatBurst       int

	// RenewLead - за сколько до exp медиа-токена продлевать его
	RenewLead       time.Duration
	TeardownTimeout time.Duration
}

// SessionUsecase - координатор живой сессии: bootstrap, сигналинг, медиа, модерация и чат.
type SessionUsecase interface {
	Join(ctx context.Context, sessionID string) (models.View, error)
	Rejoin(ctx context.Context) (models.View, error)
	Leave(ctx context.Context) error

	SetMuted(ctx context.Context, muted bool) error
	SetVideoEnabled(ctx context.Context, enabled bool) error
	SetHandRaised(ctx context.Context, raised bool) error
	SwitchCamera(ctx context.Context) error

	SendChat(ctx context.Context, text string) error

	// AttachRemoteVideo привязывает удалённое видео к приёмнику UI по запросу из AttachRequests.
	// target переходит во владение: при ошибке он закрыт.
	AttachRemoteVideo(ctx context.Context, uid string, target RenderTarget) error
	AttachRequests() <-chan string

	View() models.View
	Subscribe() (<-chan models.View, func())
}

type sessionUsecase struct {
	cfg SessionConfig

	api          SessionAPI
	dialer       SignalingDialer
	newTransport MediaTransportFactory
	transcripts  TranscriptRepository

	chat       *ChatLog
	limiter    *rate.Limiter
	attachReqs chan string

	// lifecycle сериализует Join/Rejoin/Leave
	lifecycle sync.Mutex

	run        *liveRun
	joinCancel context.CancelFunc
	mu         sync.Mutex

	subs    map[int]chan models.View
	nextSub int
	subsMu  sync.Mutex
}

func NewSessionUsecase(
	cfg SessionConfig,
	api SessionAPI,
	dialer SignalingDialer,
	newTransport MediaTransportFactory,
	transcripts TranscriptRepository,
) SessionUsecase {
	limit := rate.Inf
	if cfg.ChatRate > 0 {
		limit = rate.Limit(cfg.ChatRate)
	}

	if cfg.ChatBurst <= 0 {
		cfg.ChatBurst = 1
	}

	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 5 * time.Second
	}

	return &sessionUsecase{
		cfg:          cfg,
		api:          api,
		dialer:       dialer,
		newTransport: newTransport,
		transcripts:  transcripts,
		chat:         NewChatLog(cfg.ChatDedupWindow),
		limiter:      rate.NewLimiter(limit, cfg.ChatBurst),
		attachReqs:   make(chan string, 8),
		subs:         make(map[int]chan models.View),
	}
}

func (u *sessionUsecase) Join(ctx context.Context, sessionID string) (models.View, error) {
	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	if run := u.current(); run != nil && !run.finished() {
		return u.View(), ErrAlreadyJoined
	}

	u.chat.Reset()

	if err := u.start(ctx, sessionID, models.NewLocalParticipantState()); err != nil {
		return models.View{Error: err.Error()}, err
	}

	return u.View(), nil
}

// Rejoin - ручной повтор после окончательного обрыва. Чат сохраняется и сливается с новым бэклогом.
func (u *sessionUsecase) Rejoin(ctx context.Context) (models.View, error) {
	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	prev := u.current()
	if prev == nil {
		return models.View{}, ErrNotJoined
	}

	if err := prev.Err(); errors.Is(err, domain.ErrParticipantRemoved) || errors.Is(err, domain.ErrSessionEnded) {
		return u.View(), fmt.Errorf("%w: %w", ErrCannotRejoin, err)
	}

	prev.teardown(nil)
	prev.wait(ctx)

	local := prev.rec.State()
	local.HandRaised = false
	local.Status = models.ParticipantActive

	if err := u.start(ctx, prev.sessionID, local); err != nil {
		return models.View{Error: err.Error()}, err
	}

	return u.View(), nil
}

// Leave снимает всё, включая незавершённый Join. Ошибки очистки логируются и не возвращаются.
func (u *sessionUsecase) Leave(ctx context.Context) error {
	u.mu.Lock()
	if u.joinCancel != nil {
		u.joinCancel()
	}
	u.mu.Unlock()

	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	run := u.current()
	if run == nil {
		return nil
	}

	run.teardown(nil)
	run.wait(ctx)

	return nil
}

func (u *sessionUsecase) SetMuted(ctx context.Context, muted bool) error {
	run := u.current()
	if run == nil {
		return ErrNotJoined
	}

	return run.rec.SetMuted(ctx, muted)
}

func (u *sessionUsecase) SetVideoEnabled(ctx context.Context, enabled bool) error {
	run := u.current()
	if run == nil {
		return ErrNotJoined
	}

	return run.rec.SetVideoEnabled(ctx, enabled)
}

func (u *sessionUsecase) SetHandRaised(ctx context.Context, raised bool) error {
	run := u.current()
	if run == nil {
		return ErrNotJoined
	}

	return run.rec.SetHandRaised(ctx, raised)
}

func (u *sessionUsecase) SwitchCamera(ctx context.Context) error {
	run := u.current()
	if run == nil {
		return ErrNotJoined
	}

	return run.rec.SwitchCamera(ctx)
}

// SendChat показывает сообщение сразу и отправляет его; при ошибке отправки запись убирается
func (u *sessionUsecase) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	run := u.current()
	if run == nil {
		return ErrNotJoined
	}

	if run.finished() {
		if err := run.Err(); err != nil {
			return err
		}

		return domain.ErrSignalingDisconnected
	}

	if !u.limiter.Allow() {
		return domain.ErrChatRateLimited
	}

	msg := models.ChatMessage{
		LocalID:    uuid.NewString(),
		SenderID:   run.self.ID,
		SenderName: run.self.Name,
		SenderRole: run.self.Role,
		Text:       text,
		Timestamp:  time.Now(),
	}

	u.chat.AddOptimistic(msg)
	metric.RecordChat("optimistic")
	u.publish()

	err := run.channel.Emit(ctx, events.TypeSendChat, events.SendChatEvent{SessionID: run.sessionID, Text: text})
	if err != nil {
		u.chat.Retract(msg.LocalID)
		metric.RecordChat("retracted")
		u.publish()

		return fmt.Errorf("send chat: %w", err)
	}

	return nil
}

func (u *sessionUsecase) AttachRemoteVideo(ctx context.Context, uid string, target RenderTarget) error {
	run := u.current()
	if run == nil {
		closeTarget(target)
		return ErrNotJoined
	}

	track, ok := run.media.RemoteVideo(uid)
	if !ok {
		closeTarget(target)
		return ErrNoRemoteVideo
	}

	if err := run.transport.Attach(ctx, track, target); err != nil {
		return fmt.Errorf("attach remote video: %w", err)
	}

	return nil
}

func closeTarget(target RenderTarget) {
	if target == nil {
		return
	}

	if err := target.Close(); err != nil {
		slog.Warn("close render target", slog.Any(constant.Error, err))
	}
}

func (u *sessionUsecase) AttachRequests() <-chan string {
	return u.attachReqs
}

func (u *sessionUsecase) View() models.View {
	run := u.current()
	if run == nil {
		return models.View{
			Banner:    models.StateDisconnected,
			Signaling: models.StateDisconnected,
			Media:     models.StateDisconnected,
			Local:     models.NewLocalParticipantState(),
			Chat:      u.chat.Messages(),
		}
	}

	return run.view()
}

// Subscribe отдаёт поток снимков состояния; медленный подписчик получает только последний
func (u *sessionUsecase) Subscribe() (<-chan models.View, func()) {
	u.subsMu.Lock()
	defer u.subsMu.Unlock()

	id := u.nextSub
	u.nextSub++

	ch := make(chan models.View, 1)
	u.subs[id] = ch
	ch <- u.View()

	return ch, func() {
		u.subsMu.Lock()
		defer u.subsMu.Unlock()

		if _, ok := u.subs[id]; ok {
			delete(u.subs, id)
			close(ch)
		}
	}
}

func (u *sessionUsecase) start(ctx context.Context, sessionID string, local models.LocalParticipantState) error {
	if exp, ok := tokenExpiry(u.cfg.Token); ok && time.Now().After(exp) {
		return fmt.Errorf("auth token expired at %s: %w", exp.Format(time.RFC3339), domain.ErrAuthExpired)
	}

	joinCtx, cancel := context.WithTimeout(ctx, u.cfg.JoinTimeout)
	defer cancel()

	u.mu.Lock()
	u.joinCancel = cancel
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.joinCancel = nil
		u.mu.Unlock()
	}()

	res, err := u.api.Join(joinCtx, u.cfg.Token, sessionID)
	if err != nil {
		return u.joinError(joinCtx, "join session", err)
	}

	log := slog.With(slog.String(constant.SessionID, sessionID))

	if !res.Session.IsLive() {
		log.Info("session is not live", slog.String(constant.State, string(res.Session.Status)))

		return fmt.Errorf("session %s is %s: %w", sessionID, res.Session.Status, domain.ErrSessionNotLive)
	}

	endpoint := res.SignalingEndpoint
	if u.cfg.SignalingURL != "" {
		endpoint = u.cfg.SignalingURL
	}

	if endpoint == "" {
		return fmt.Errorf("no signaling endpoint: %w", domain.ErrJoinFailed)
	}

	u.chat.Merge(res.ChatBacklog)

	transport, err := u.newTransport()
	if err != nil {
		return fmt.Errorf("create media transport: %w: %w", domain.ErrMediaInitFailed, err)
	}

	run := newLiveRun(u, sessionID, res, transport, local, endpoint)
	run.startLoop()

	// сигналинг начинает подключаться раньше медиа: команды модерации копятся в модели
	run.channel.Start(run.ctx)

	started := run.rec.State()

	// kick или отказ сигналинга во время старта прерывают ожидание SFU
	startCtx, stopStart := context.WithCancel(joinCtx)
	defer stopStart()

	stopAfter := context.AfterFunc(run.ctx, stopStart)
	defer stopAfter()

	if err = run.media.Start(startCtx, res.Credentials, started.Muted, started.VideoEnabled); err != nil {
		return u.abortStart(ctx, joinCtx, run, err)
	}

	if err = run.rec.MediaReady(run.ctx, run.media, started.Muted, started.VideoEnabled); err != nil {
		log.Warn("apply buffered moderation", slog.Any(constant.Error, err))
	}

	if run.finished() {
		return u.abortStart(ctx, joinCtx, run, errors.New("session torn down during start"))
	}

	run.armRenewal(res.Credentials.Token)

	u.mu.Lock()
	u.run = run
	u.mu.Unlock()

	log.Info("joined session", slog.String(constant.UserID, res.Self.ID))
	u.publish()

	return nil
}

// abortStart снимает незавершённый заход. Если заход уже закончился по своей причине
// (AuthExpired, kick, конец сессии, исчерпанный сигналинг), возвращается она, а не ошибка медиа.
func (u *sessionUsecase) abortStart(ctx, joinCtx context.Context, run *liveRun, err error) error {
	run.teardown(nil)
	run.wait(ctx)

	if cause := run.Err(); cause != nil {
		return fmt.Errorf("start media: %w", cause)
	}

	return u.joinError(joinCtx, "start media", err)
}

func (u *sessionUsecase) joinError(joinCtx context.Context, op string, err error) error {
	if errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, domain.ErrJoinTimeout)
	}

	if errors.Is(err, domain.ErrSessionNotLive) ||
		errors.Is(err, domain.ErrAuthExpired) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrMediaInitFailed) ||
		errors.Is(err, domain.ErrJoinFailed) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, domain.ErrJoinFailed, err)
}

func (u *sessionUsecase) current() *liveRun {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.run
}

func (u *sessionUsecase) publish() {
	u.subsMu.Lock()
	defer u.subsMu.Unlock()

	// снимок берётся под локом, чтобы последний отправленный всегда был свежим
	v := u.View()

	for _, ch := range u.subs {
		select {
		case <-ch:
		default:
		}

		ch <- v
	}
}

func (u *sessionUsecase) requestAttach(uid string) {
	select {
	case u.attachReqs <- uid:
	default:
		slog.Warn("attach request dropped", slog.String(constant.RemoteUID, uid))
	}
}
