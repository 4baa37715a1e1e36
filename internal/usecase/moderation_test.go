package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

type emitted struct {
	eventType string
	payload   any
}

type fakeAnnouncer struct {
	err  error
	sent []emitted
	mu   sync.Mutex
}

func (a *fakeAnnouncer) Emit(_ context.Context, eventType string, payload any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return a.err
	}

	a.sent = append(a.sent, emitted{eventType: eventType, payload: payload})

	return nil
}

func (a *fakeAnnouncer) of(eventType string) []emitted {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []emitted
	for _, e := range a.sent {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}

	return out
}

// gatedMedia блокирует SetMuted до закрытия gate
type gatedMedia struct {
	gate    chan struct{}
	muteErr error

	muted, video []bool
	mu           sync.Mutex
}

func (m *gatedMedia) SetMuted(ctx context.Context, muted bool) error {
	if m.gate != nil {
		<-m.gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.muteErr != nil {
		return m.muteErr
	}

	m.muted = append(m.muted, muted)

	return nil
}

func (m *gatedMedia) SetVideoEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.video = append(m.video, enabled)

	return nil
}

func (m *gatedMedia) SwitchCamera(_ context.Context, current models.CameraFacing) (models.CameraFacing, error) {
	return opposite(current), nil
}

func (m *gatedMedia) failMute(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.muteErr = err
}

func (m *gatedMedia) mutedCalls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]bool(nil), m.muted...)
}

func newTestReconciler(a Announcer) *Reconciler {
	return NewReconciler("abc123", models.NewLocalParticipantState(), a, nil)
}

func TestReconciler_LastWriteWinsAndOneAnnouncePerChange(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	ms := startedMedia(t, tr)
	ann := &fakeAnnouncer{}

	r := newTestReconciler(ann)
	require.NoError(t, r.MediaReady(ctx, ms, false, true))

	// local и remote пишут через один и тот же сеттер
	steps := []struct {
		origin string
		muted  bool
	}{
		{"local", true},
		{"remote", true},
		{"local", false},
		{"remote", true},
		{"remote", true},
		{"local", false},
		{"local", false},
		{"remote", false},
		{"local", true},
	}

	changes := 0
	prev := false

	for _, s := range steps {
		require.NoError(t, r.SetMuted(ctx, s.muted), s.origin)

		if s.muted != prev {
			changes++
			prev = s.muted
		}

		assert.Equal(t, s.muted, r.State().Muted)
		assert.Len(t, ann.of(events.TypeSetPresence), changes)
		assert.Equal(t, !s.muted, len(tr.publishedOf(KindAudio)) == 1)
	}

	last := ann.of(events.TypeSetPresence)[changes-1].payload.(events.PresenceEvent)
	assert.True(t, last.Muted)
	assert.True(t, last.VideoEnabled)
}

func TestReconciler_BufferedUntilMediaReady(t *testing.T) {
	ctx := context.Background()
	ann := &fakeAnnouncer{}
	r := newTestReconciler(ann)

	// команды до готовности медиа меняют модель и объявляются
	require.NoError(t, r.SetMuted(ctx, true))
	require.NoError(t, r.SetVideoEnabled(ctx, false))
	assert.Len(t, ann.of(events.TypeSetPresence), 2)

	media := &gatedMedia{}
	require.NoError(t, r.MediaReady(ctx, media, false, true))

	assert.Equal(t, []bool{true}, media.mutedCalls())
	assert.Equal(t, []bool{false}, media.video)
}

func TestReconciler_MediaFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	ann := &fakeAnnouncer{}
	r := newTestReconciler(ann)

	media := &gatedMedia{muteErr: errors.New("device lost")}
	require.NoError(t, r.MediaReady(ctx, media, false, true))

	err := r.SetMuted(ctx, true)
	require.Error(t, err)

	assert.False(t, r.State().Muted)
	assert.Empty(t, ann.of(events.TypeSetPresence))
}

func TestReconciler_FailedBufferedApplyReverts(t *testing.T) {
	ctx := context.Background()
	ann := &fakeAnnouncer{}
	r := newTestReconciler(ann)

	require.NoError(t, r.SetMuted(ctx, true))
	require.Len(t, ann.of(events.TypeSetPresence), 1)

	media := &gatedMedia{muteErr: errors.New("device busy")}
	err := r.MediaReady(ctx, media, false, true)
	require.ErrorContains(t, err, "apply buffered mute")

	// модель и сервер снова совпадают с медиа
	assert.False(t, r.State().Muted)
	sent := ann.of(events.TypeSetPresence)
	require.Len(t, sent, 2)
	assert.False(t, sent[1].payload.(events.PresenceEvent).Muted)

	// повторная команда доходит до медиа
	media.failMute(nil)
	require.NoError(t, r.SetMuted(ctx, true))

	assert.Equal(t, []bool{true}, media.mutedCalls())
	assert.True(t, r.State().Muted)
	assert.Len(t, ann.of(events.TypeSetPresence), 3)
}

func TestReconciler_AnnounceFailureKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	ann := &fakeAnnouncer{err: errors.New("offline")}
	r := newTestReconciler(ann)

	require.NoError(t, r.SetMuted(ctx, true))
	assert.True(t, r.State().Muted)

	// после переподключения отправляется актуальное состояние
	ann.err = nil
	require.NoError(t, r.Announce(ctx, true))

	sent := ann.of(events.TypeSetPresence)
	require.Len(t, sent, 1)
	assert.True(t, sent[0].payload.(events.PresenceEvent).Muted)
}

func TestReconciler_DifferentAttributesRunConcurrently(t *testing.T) {
	ctx := context.Background()
	r := newTestReconciler(&fakeAnnouncer{})

	media := &gatedMedia{gate: make(chan struct{})}
	require.NoError(t, r.MediaReady(ctx, media, false, true))

	muteDone := make(chan error, 1)
	go func() { muteDone <- r.SetMuted(ctx, true) }()

	// видео не ждёт зависший mute
	videoDone := make(chan error, 1)
	go func() { videoDone <- r.SetVideoEnabled(ctx, false) }()

	select {
	case err := <-videoDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("video toggle blocked by mute")
	}

	close(media.gate)
	require.NoError(t, <-muteDone)

	st := r.State()
	assert.True(t, st.Muted)
	assert.False(t, st.VideoEnabled)
}

func TestReconciler_SameAttributeSerialized(t *testing.T) {
	ctx := context.Background()
	r := newTestReconciler(&fakeAnnouncer{})

	media := &gatedMedia{}
	require.NoError(t, r.MediaReady(ctx, media, false, true))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			_ = r.SetMuted(ctx, v)
		}(i%2 == 0)
	}
	wg.Wait()

	// медиа всегда видит чередование, итог совпадает с последним применённым вызовом
	calls := media.mutedCalls()
	require.NotEmpty(t, calls)
	for i := 1; i < len(calls); i++ {
		assert.NotEqual(t, calls[i-1], calls[i])
	}
	assert.Equal(t, calls[len(calls)-1], r.State().Muted)
}

func TestReconciler_HandRaise(t *testing.T) {
	ctx := context.Background()
	ann := &fakeAnnouncer{}
	r := newTestReconciler(ann)

	require.NoError(t, r.SetHandRaised(ctx, true))
	assert.True(t, r.State().HandRaised)

	sent := ann.of(events.TypeRaiseHand)
	require.Len(t, sent, 1)
	assert.Equal(t, events.RaiseHandEvent{SessionID: "abc123", Raised: true}, sent[0].payload)

	// преподаватель опустил руку
	r.AckHand(false)
	assert.False(t, r.State().HandRaised)
	assert.Len(t, ann.of(events.TypeRaiseHand), 1)

	ann.err = errors.New("offline")
	require.Error(t, r.SetHandRaised(ctx, true))
	assert.False(t, r.State().HandRaised)
}

func TestReconciler_SwitchCamera(t *testing.T) {
	ctx := context.Background()
	r := newTestReconciler(&fakeAnnouncer{})

	require.Error(t, r.SwitchCamera(ctx))

	require.NoError(t, r.MediaReady(ctx, &gatedMedia{}, false, true))
	require.NoError(t, r.SwitchCamera(ctx))

	assert.Equal(t, models.CameraBack, r.State().CameraFacing)
}

func TestReconciler_RemovedBlocksWrites(t *testing.T) {
	ctx := context.Background()
	ann := &fakeAnnouncer{}
	r := newTestReconciler(ann)

	media := &gatedMedia{}
	require.NoError(t, r.MediaReady(ctx, media, false, true))

	r.Remove()

	assert.NoError(t, r.SetMuted(ctx, true))
	assert.NoError(t, r.SetVideoEnabled(ctx, false))
	assert.NoError(t, r.SetHandRaised(ctx, true))

	st := r.State()
	assert.True(t, st.Removed())
	assert.False(t, st.Muted)
	assert.True(t, st.VideoEnabled)
	assert.Empty(t, media.mutedCalls())
	assert.Empty(t, ann.sent)
}
