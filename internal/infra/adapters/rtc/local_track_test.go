package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/usecase"
)

type stubSource struct {
	tag    byte
	closed atomic.Bool
}

func (s *stubSource) Next() (media.Sample, error) {
	if s.closed.Load() {
		return media.Sample{}, errors.New("source closed")
	}

	return media.Sample{Data: []byte{s.tag}, Duration: time.Millisecond}, nil
}

func (s *stubSource) Close() error {
	s.closed.Store(true)
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	tags []byte
}

func (r *recordingSink) WriteSample(s media.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tags = append(r.tags, s.Data[0])
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tags)
}

func (r *recordingSink) last() byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tags) == 0 {
		return 0
	}

	return r.tags[len(r.tags)-1]
}

type stubOpener struct {
	mu      sync.Mutex
	opened  map[string]*stubSource
	failFor string
}

func newStubOpener() *stubOpener {
	return &stubOpener{opened: make(map[string]*stubSource)}
}

func (o *stubOpener) open(d device) (sampleSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if d.ID == o.failFor {
		return nil, domain.ErrPermissionDenied
	}

	s := &stubSource{tag: d.Label[0]}
	o.opened[d.ID] = s

	return s, nil
}

func (o *stubOpener) source(id string) *stubSource {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.opened[id]
}

func newTestCameraTrack(t *testing.T, opener *stubOpener, sink sampleWriter) *localTrack {
	t.Helper()

	cat := newCatalog(nil, map[string]string{"Front Camera": "front.ivf", "Back Camera": "back.ivf"})
	dev, err := cat.camera("")
	require.NoError(t, err)

	track, err := newLocalTrack("video-1", usecase.KindVideo, nil, sink, cat, dev, opener.open)
	require.NoError(t, err)
	t.Cleanup(func() { _ = track.Close() })

	return track
}

func TestLocalTrack_DisabledStopsSamples(t *testing.T) {
	sink := &recordingSink{}
	track := newTestCameraTrack(t, newStubOpener(), sink)

	require.Eventually(t, func() bool { return sink.count() > 3 }, time.Second, time.Millisecond)

	require.NoError(t, track.SetEnabled(false))
	time.Sleep(5 * time.Millisecond)
	frozen := sink.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, sink.count())

	require.NoError(t, track.SetEnabled(true))
	assert.Eventually(t, func() bool { return sink.count() > frozen }, time.Second, time.Millisecond)
}

func TestLocalTrack_SetDeviceSwapsSource(t *testing.T) {
	sink := &recordingSink{}
	opener := newStubOpener()
	track := newTestCameraTrack(t, opener, sink)

	require.Eventually(t, func() bool { return sink.last() == 'F' }, time.Second, time.Millisecond)

	require.NoError(t, track.SetDevice(context.Background(), "cam-back-camera"))
	assert.Equal(t, "cam-back-camera", track.DeviceID())
	assert.Equal(t, "video-1", track.ID())

	assert.Eventually(t, func() bool { return sink.last() == 'B' }, time.Second, time.Millisecond)
	assert.True(t, opener.source("cam-front-camera").closed.Load())
}

func TestLocalTrack_SetDeviceFailureKeepsSource(t *testing.T) {
	opener := newStubOpener()
	opener.failFor = "cam-back-camera"
	track := newTestCameraTrack(t, opener, &recordingSink{})

	err := track.SetDevice(context.Background(), "cam-back-camera")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, "cam-front-camera", track.DeviceID())
	assert.False(t, opener.source("cam-front-camera").closed.Load())
}

func TestLocalTrack_Close(t *testing.T) {
	opener := newStubOpener()
	track := newTestCameraTrack(t, opener, &recordingSink{})

	require.NoError(t, track.Close())
	require.NoError(t, track.Close())

	assert.True(t, opener.source("cam-front-camera").closed.Load())
	assert.Error(t, track.SetEnabled(true))
	assert.Error(t, track.SetDevice(context.Background(), "cam-back-camera"))
}
