package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

var (
	errTransportClosed = errors.New("media transport closed")
	errNotJoined       = errors.New("media transport not joined")
	errTrackNotReady   = errors.New("remote track not ready")
)

const sfuWriteTimeout = 5 * time.Second

type Config struct {
	SFUURL     string
	ICEServers []webrtc.ICEServer

	// label -> путь к файлу
	Microphones map[string]string
	Cameras     map[string]string

	AttachMaxAttempts uint64
	AttachRetryDelay  time.Duration
}

// NewTransportFactory возвращает фабрику pion транспорта: один транспорт на один заход в сессию
func NewTransportFactory(cfg Config) usecase.MediaTransportFactory {
	if cfg.AttachMaxAttempts == 0 {
		cfg.AttachMaxAttempts = 5
	}
	if cfg.AttachRetryDelay <= 0 {
		cfg.AttachRetryDelay = 200 * time.Millisecond
	}

	cat := newCatalog(cfg.Microphones, cfg.Cameras)

	return func() (usecase.MediaTransport, error) {
		return newTransport(cfg, cat)
	}
}

type transport struct {
	cfg     Config
	catalog *catalog
	api     *webrtc.API
	dialer  *websocket.Dialer

	events  chan usecase.MediaEvent
	remotes *remoteStore

	mu      sync.Mutex
	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	creds   models.MediaCredentials
	senders map[string]*webrtc.RTPSender
	pending map[remoteKey]struct{}
	joinRes chan error

	writeMu sync.Mutex

	negMu   sync.Mutex
	answers chan webrtc.SessionDescription

	closed    chan struct{}
	closeOnce sync.Once
}

func newTransport(cfg Config, cat *catalog) (*transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("%w: register codecs: %w", domain.ErrMediaInitFailed, err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("%w: register interceptors: %w", domain.ErrMediaInitFailed, err)
	}

	// периодический PLI, чтобы принятое видео восстанавливалось после потерь
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("%w: create pli interceptor: %w", domain.ErrMediaInitFailed, err)
	}
	registry.Add(pli)

	return &transport{
		cfg:     cfg,
		catalog: cat,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		events:  make(chan usecase.MediaEvent, 32),
		remotes: newRemoteStore(),
		senders: make(map[string]*webrtc.RTPSender),
		pending: make(map[remoteKey]struct{}),
		answers: make(chan webrtc.SessionDescription, 1),
		closed:  make(chan struct{}),
	}, nil
}

func (t *transport) Join(ctx context.Context, creds models.MediaCredentials) error {
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = t.cfg.SFUURL
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	ws, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("dial sfu: %w", domain.ErrAuthExpired)
		}

		return fmt.Errorf("%w: dial sfu: %w", domain.ErrMediaInitFailed, err)
	}

	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.cfg.ICEServers})
	if err != nil {
		ws.Close()
		return fmt.Errorf("%w: create peer connection: %w", domain.ErrMediaInitFailed, err)
	}

	joinRes := make(chan error, 1)

	t.mu.Lock()
	t.ws, t.pc, t.creds, t.joinRes = ws, pc, creds, joinRes
	t.mu.Unlock()

	t.bindPeer(pc)

	go t.readLoop(ws)

	err = t.send(ctx, sfuJoin, joinEvent{
		AppID:   creds.AppID,
		Token:   creds.Token,
		Channel: creds.ChannelName,
		UID:     creds.UID,
	})
	if err != nil {
		t.shutdown()
		return fmt.Errorf("%w: send join: %w", domain.ErrMediaInitFailed, err)
	}

	select {
	case err = <-joinRes:
	case <-ctx.Done():
		err = ctx.Err()
	case <-t.closed:
		err = errTransportClosed
	}

	if err != nil {
		t.shutdown()
		return fmt.Errorf("join sfu: %w", err)
	}

	return nil
}

func (t *transport) bindPeer(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}

		if err := t.send(context.Background(), sfuCandidate, candidateEvent{Candidate: c.ToJSON()}); err != nil {
			slog.Debug("send ice candidate", slog.Any(constant.Error, err))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		slog.Debug("peer connection state", slog.String(constant.State, s.String()))

		if state, ok := mapPeerState(s); ok {
			t.emit(usecase.MediaStateChanged{State: state})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		key := remoteKey{uid: track.StreamID(), kind: usecase.TrackKind(track.Kind().String())}
		t.remotes.add(key, track)

		t.mu.Lock()
		_, waiting := t.pending[key]
		delete(t.pending, key)
		t.mu.Unlock()

		// подписка была принята раньше, чем пришёл трек: повторяем событие публикации
		if waiting {
			t.emit(usecase.RemotePublished{UID: key.uid, Kind: key.kind})
		}
	})
}

func mapPeerState(s webrtc.PeerConnectionState) (models.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return models.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return models.StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return models.StateReconnecting, true
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return models.StateDisconnected, true
	default:
		return "", false
	}
}

func (t *transport) readLoop(ws *websocket.Conn) {
	for {
		var msg events.Message
		if err := ws.ReadJSON(&msg); err != nil {
			select {
			case <-t.closed:
			default:
				slog.Warn("sfu connection lost", slog.Any(constant.Error, err))
				t.resolveJoin(fmt.Errorf("%w: sfu connection lost: %w", domain.ErrMediaInitFailed, err))
				t.emit(usecase.MediaStateChanged{State: models.StateDisconnected})
			}

			return
		}

		if err := t.handle(msg); err != nil {
			slog.Warn("handle sfu message", slog.Any(constant.Error, err), slog.String(constant.Event, msg.Type))
		}
	}
}

func (t *transport) handle(msg events.Message) error {
	switch msg.Type {
	case sfuJoined:
		t.resolveJoin(nil)

	case sfuError:
		var e errorEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal error event: %w", err)
		}

		if e.Code == sfuErrUnauthorized {
			if !t.resolveJoin(fmt.Errorf("sfu rejected token: %w", domain.ErrAuthExpired)) {
				t.emit(usecase.TokenWillExpire{})
			}
			return nil
		}

		if !t.resolveJoin(fmt.Errorf("%w: sfu: %s", domain.ErrMediaInitFailed, e.Message)) {
			slog.Warn("sfu error", slog.String("code", e.Code), slog.String("message", e.Message))
		}

	case sfuAnswer:
		var answer sdpEvent
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}

		select {
		case t.answers <- answer.SDP:
		default:
			return errors.New("unexpected answer")
		}

	case sfuOffer:
		var offer sdpEvent
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			return fmt.Errorf("unmarshal offer: %w", err)
		}

		go func() {
			if err := t.answerOffer(offer.SDP); err != nil {
				slog.Error("answer sfu offer", slog.Any(constant.Error, err))
			}
		}()

	case sfuCandidate:
		var c candidateEvent
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			return fmt.Errorf("unmarshal candidate: %w", err)
		}

		pc, err := t.peer()
		if err != nil {
			return err
		}

		if err = pc.AddICECandidate(c.Candidate); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}

	case sfuPublished, sfuUnpublished:
		var e trackEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal %s: %w", msg.Type, err)
		}

		kind := usecase.TrackKind(e.Kind)
		if e.UID == "" || (kind != usecase.KindAudio && kind != usecase.KindVideo) {
			return fmt.Errorf("%w: %s without uid or kind", domain.ErrMalformedEvent, msg.Type)
		}

		if msg.Type == sfuPublished {
			t.emit(usecase.RemotePublished{UID: e.UID, Kind: kind})
			return nil
		}

		t.remotes.detach(remoteKey{uid: e.UID, kind: kind})
		t.emit(usecase.RemoteUnpublished{UID: e.UID, Kind: kind})

	case sfuParticipantLeft:
		var e trackEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal participant left: %w", err)
		}

		t.remotes.detachUser(e.UID)
		t.emit(usecase.RemoteLeft{UID: e.UID})

	case sfuTokenWillExpire:
		t.emit(usecase.TokenWillExpire{})

	default:
		return fmt.Errorf("%w: unknown sfu message %q", domain.ErrMalformedEvent, msg.Type)
	}

	return nil
}

// resolveJoin отдаёт результат ожидающему Join. false - никто не ждал.
func (t *transport) resolveJoin(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.joinRes == nil {
		return false
	}

	t.joinRes <- err
	t.joinRes = nil

	return true
}

func (t *transport) peer() (*webrtc.PeerConnection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pc == nil {
		return nil, errNotJoined
	}

	return t.pc, nil
}

func (t *transport) send(ctx context.Context, eventType string, payload any) error {
	msg, err := events.Encode(eventType, payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	ws := t.ws
	t.mu.Unlock()

	if ws == nil {
		return errNotJoined
	}

	deadline := time.Now().Add(sfuWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err = ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err = ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", eventType, err)
	}

	return nil
}

func (t *transport) emit(ev usecase.MediaEvent) {
	select {
	case t.events <- ev:
	case <-t.closed:
	}
}

// negotiate отправляет offer и ждёт answer. Переговоры идут строго по одному.
func (t *transport) negotiate(ctx context.Context) error {
	pc, err := t.peer()
	if err != nil {
		return err
	}

	t.negMu.Lock()
	defer t.negMu.Unlock()

	select {
	case <-t.answers:
	default:
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	if err = pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	if err = t.send(ctx, sfuOffer, sdpEvent{SDP: offer}); err != nil {
		return err
	}

	select {
	case answer := <-t.answers:
		if err = pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait sfu answer: %w", ctx.Err())
	case <-t.closed:
		return errTransportClosed
	}
}

func (t *transport) answerOffer(offer webrtc.SessionDescription) error {
	pc, err := t.peer()
	if err != nil {
		return err
	}

	t.negMu.Lock()
	defer t.negMu.Unlock()

	if err = pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	if err = pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return t.send(context.Background(), sfuAnswer, sdpEvent{SDP: answer})
}

func (t *transport) CreateMicrophoneTrack(ctx context.Context) (usecase.LocalTrack, error) {
	dev, err := t.catalog.microphone()
	if err != nil {
		return nil, err
	}

	return t.newTrack(usecase.KindAudio, dev, newOggSource)
}

func (t *transport) CreateCameraTrack(ctx context.Context, deviceID string) (usecase.LocalVideoTrack, error) {
	dev, err := t.catalog.camera(deviceID)
	if err != nil {
		return nil, err
	}

	return t.newTrack(usecase.KindVideo, dev, newIVFSource)
}

func (t *transport) newTrack(kind usecase.TrackKind, dev device, open sourceOpener) (*localTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}
	if kind == usecase.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	t.mu.Lock()
	streamID := t.creds.UID
	t.mu.Unlock()

	id := fmt.Sprintf("%s-%s", kind, uuid.NewString())

	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s track: %w", domain.ErrMediaInitFailed, kind, err)
	}

	return newLocalTrack(id, kind, track, track, t.catalog, dev, open)
}

func (t *transport) Publish(ctx context.Context, tracks ...usecase.LocalTrack) error {
	pc, err := t.peer()
	if err != nil {
		return err
	}

	for _, tr := range tracks {
		lt, ok := tr.(*localTrack)
		if !ok {
			return fmt.Errorf("publish foreign track %s", tr.ID())
		}

		sender, err := pc.AddTrack(lt.track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", lt.id, err)
		}

		t.mu.Lock()
		t.senders[lt.id] = sender
		t.mu.Unlock()

		go drainRTCP(sender)
	}

	return t.negotiate(ctx)
}

func (t *transport) Unpublish(ctx context.Context, tracks ...usecase.LocalTrack) error {
	pc, err := t.peer()
	if err != nil {
		return err
	}

	var errs error

	for _, tr := range tracks {
		t.mu.Lock()
		sender, ok := t.senders[tr.ID()]
		delete(t.senders, tr.ID())
		t.mu.Unlock()

		if !ok {
			continue
		}

		errs = multierr.Append(errs, pc.RemoveTrack(sender))
	}

	if errs != nil {
		return fmt.Errorf("remove tracks: %w", errs)
	}

	return t.negotiate(ctx)
}

// drainRTCP читает RTCP отправителя, без этого не работают NACK и PLI интерцепторы
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)

	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *transport) Subscribe(ctx context.Context, uid string, kind usecase.TrackKind) (usecase.RemoteTrack, error) {
	key := remoteKey{uid: uid, kind: kind}

	if tr, ok := t.remotes.get(key); ok {
		return tr, nil
	}

	t.mu.Lock()
	t.pending[key] = struct{}{}
	t.mu.Unlock()

	if err := t.send(ctx, sfuSubscribe, trackEvent{UID: uid, Kind: string(kind)}); err != nil {
		return nil, fmt.Errorf("subscribe %s %s: %w", uid, kind, err)
	}

	// трек мог прийти, пока отправляли подписку
	if tr, ok := t.remotes.get(key); ok {
		return tr, nil
	}

	return nil, nil
}

// Attach забирает target во владение: при ошибке он закрывается
func (t *transport) Attach(ctx context.Context, track usecase.RemoteTrack, target usecase.RenderTarget) error {
	key := remoteKey{kind: track.Kind()}
	if rt, ok := track.(*remoteTrack); ok {
		key.uid = rt.key.uid
	} else {
		target.Close()
		return fmt.Errorf("attach foreign track %s", track.ID())
	}

	backoff := retry.WithMaxRetries(t.cfg.AttachMaxAttempts-1, retry.NewConstant(t.cfg.AttachRetryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-t.closed:
			return errTransportClosed
		default:
		}

		rt, ok := t.remotes.get(key)
		if !ok {
			return retry.RetryableError(errTrackNotReady)
		}

		rt.setTarget(target)

		return nil
	})
	if err != nil {
		target.Close()
		return fmt.Errorf("attach %s: %w", track.ID(), err)
	}

	return nil
}

func (t *transport) RenewToken(ctx context.Context, token string) error {
	if err := t.send(ctx, sfuRenew, renewEvent{Token: token}); err != nil {
		return fmt.Errorf("renew media token: %w", err)
	}

	t.mu.Lock()
	t.creds.Token = token
	t.mu.Unlock()

	return nil
}

func (t *transport) Cameras(ctx context.Context) ([]usecase.Device, error) {
	return t.catalog.listCameras(), nil
}

func (t *transport) Events() <-chan usecase.MediaEvent {
	return t.events
}

// RecreateAudioOnUnmute: снятый с отправителя аудиотрек публикуется заново только новым экземпляром
func (t *transport) RecreateAudioOnUnmute() bool {
	return true
}

func (t *transport) Leave(ctx context.Context) error {
	select {
	case <-t.closed:
		return nil
	default:
	}

	var errs error

	if err := t.send(ctx, sfuLeave, struct{}{}); err != nil && !errors.Is(err, errNotJoined) {
		errs = multierr.Append(errs, fmt.Errorf("send leave: %w", err))
	}

	return multierr.Append(errs, t.shutdown())
}

func (t *transport) shutdown() error {
	var errs error

	t.closeOnce.Do(func() {
		close(t.closed)

		t.mu.Lock()
		pc, ws := t.pc, t.ws
		t.mu.Unlock()

		t.remotes.detachAll()

		if pc != nil {
			errs = multierr.Append(errs, pc.Close())
		}
		if ws != nil {
			errs = multierr.Append(errs, ws.Close())
		}
	})

	return errs
}
