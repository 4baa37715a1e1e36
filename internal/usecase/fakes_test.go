package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

var errConnClosed = errors.New("connection closed")

// --- signaling ---

type fakeConn struct {
	in     chan events.Message
	closed chan struct{}
	once   sync.Once

	sendErr error
	sent    []events.Message
	mu      sync.Mutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan events.Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, msg events.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}

	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	c.sent = append(c.sent, msg)

	return nil
}

func (c *fakeConn) Receive() (events.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return events.Message{}, errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	c.in <- events.Message{Type: eventType, Data: data}
}

func (c *fakeConn) sentOf(eventType string) []events.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []events.Message
	for _, m := range c.sent {
		if m.Type == eventType {
			out = append(out, m)
		}
	}

	return out
}

type fakeDialer struct {
	// next решает исход вызова с номером call (с единицы); nil - всегда успех
	next func(call int) error

	calls int
	conns []*fakeConn
	mu    sync.Mutex
}

func (d *fakeDialer) Dial(_ context.Context, _, _ string) (SignalingConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++

	if d.next != nil {
		if err := d.next(d.calls); err != nil {
			return nil, err
		}
	}

	conn := newFakeConn()
	d.conns = append(d.conns, conn)

	return conn, nil
}

func (d *fakeDialer) setNext(next func(call int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next = next
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i >= len(d.conns) {
		return nil
	}

	return d.conns[i]
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.conns) == 0 {
		return nil
	}

	return d.conns[len(d.conns)-1]
}

// --- media ---

var trackSeq atomic.Int64

type fakeTrack struct {
	id      string
	kind    TrackKind
	device  string
	enabled bool
	closed  bool
	mu      sync.Mutex
}

func newFakeTrack(kind TrackKind, device string) *fakeTrack {
	return &fakeTrack{
		id:      fmt.Sprintf("%s-%d", kind, trackSeq.Add(1)),
		kind:    kind,
		device:  device,
		enabled: true,
	}
}

func (t *fakeTrack) ID() string      { return t.id }
func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled

	return nil
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	return nil
}

func (t *fakeTrack) DeviceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.device
}

func (t *fakeTrack) SetDevice(_ context.Context, deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.device = deviceID

	return nil
}

func (t *fakeTrack) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.enabled
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

type fakeRemote struct {
	id   string
	kind TrackKind
}

func (r *fakeRemote) ID() string      { return r.id }
func (r *fakeRemote) Kind() TrackKind { return r.kind }

type fakeTransport struct {
	joinErr      error
	unpublishErr error
	micErr    error
	cameraErr error
	recreate  bool
	cameras   []Device

	// joinGate блокирует Join, пока тест не закроет канал
	joinGate chan struct{}
	// nilSubscribe - подписка принята, но трек ещё не готов
	nilSubscribe bool

	events chan MediaEvent

	joined     bool
	left       int
	published  map[string]LocalTrack
	tracks     []*fakeTrack
	renewed    []string
	attached   []string
	unpublishN int

	mu sync.Mutex
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		recreate:  true,
		events:    make(chan MediaEvent, 16),
		published: make(map[string]LocalTrack),
		cameras: []Device{
			{ID: "cam-front", Label: "Front Camera"},
			{ID: "cam-back", Label: "Back Camera"},
		},
	}
}

func (f *fakeTransport) Join(ctx context.Context, _ models.MediaCredentials) error {
	if f.joinGate != nil {
		select {
		case <-f.joinGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.joinErr != nil {
		return f.joinErr
	}

	f.joined = true

	return nil
}

func (f *fakeTransport) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.joined = false
	f.left++

	return nil
}

func (f *fakeTransport) CreateMicrophoneTrack(context.Context) (LocalTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.micErr != nil {
		return nil, f.micErr
	}

	t := newFakeTrack(KindAudio, "mic")
	f.tracks = append(f.tracks, t)

	return t, nil
}

func (f *fakeTransport) CreateCameraTrack(_ context.Context, deviceID string) (LocalVideoTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cameraErr != nil {
		return nil, f.cameraErr
	}

	if deviceID == "" && len(f.cameras) > 0 {
		deviceID = f.cameras[0].ID
	}

	t := newFakeTrack(KindVideo, deviceID)
	f.tracks = append(f.tracks, t)

	return t, nil
}

func (f *fakeTransport) Publish(_ context.Context, tracks ...LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range tracks {
		f.published[t.ID()] = t
	}

	return nil
}

func (f *fakeTransport) Unpublish(_ context.Context, tracks ...LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unpublishErr != nil {
		return f.unpublishErr
	}

	for _, t := range tracks {
		delete(f.published, t.ID())
		f.unpublishN++
	}

	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, uid string, kind TrackKind) (RemoteTrack, error) {
	if f.nilSubscribe {
		return nil, nil
	}

	return &fakeRemote{id: uid + "-" + string(kind), kind: kind}, nil
}

func (f *fakeTransport) Attach(_ context.Context, track RemoteTrack, _ RenderTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attached = append(f.attached, track.ID())

	return nil
}

func (f *fakeTransport) RenewToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.renewed = append(f.renewed, token)

	return nil
}

func (f *fakeTransport) Cameras(context.Context) ([]Device, error) {
	return f.cameras, nil
}

func (f *fakeTransport) Events() <-chan MediaEvent {
	return f.events
}

func (f *fakeTransport) RecreateAudioOnUnmute() bool {
	return f.recreate
}

func (f *fakeTransport) failUnpublish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unpublishErr = err
}

// publishedOf возвращает опубликованные треки нужного типа
func (f *fakeTransport) publishedOf(kind TrackKind) []LocalTrack {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []LocalTrack
	for _, t := range f.published {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}

	return out
}

func (f *fakeTransport) openTracks() []*fakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*fakeTrack
	for _, t := range f.tracks {
		if !t.isClosed() {
			out = append(out, t)
		}
	}

	return out
}

func (f *fakeTransport) attachedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.attached...)
}

func (f *fakeTransport) leftCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.left
}

func (f *fakeTransport) renewedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.renewed...)
}

// --- REST ---

type fakeAPI struct {
	result *JoinResult
	err    error
	gate   chan struct{}

	calls atomic.Int32
}

func (a *fakeAPI) Join(ctx context.Context, _ string, _ string) (*JoinResult, error) {
	a.calls.Add(1)

	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if a.err != nil {
		return nil, a.err
	}

	res := *a.result

	return &res, nil
}

type fakeTranscripts struct {
	saved []models.ChatMessage
	mu    sync.Mutex
}

func (r *fakeTranscripts) Save(_ context.Context, _ string, msg models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saved = append(r.saved, msg)

	return nil
}

func (r *fakeTranscripts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.saved)
}
