package rtc

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/usecase"
)

// chanReader отдаёт пакеты по одному; deliver возвращается, когда пересылка пакета закончена
type chanReader struct {
	packets chan *rtp.Packet
	done    chan struct{}
	started bool
}

func newChanReader() *chanReader {
	return &chanReader{packets: make(chan *rtp.Packet), done: make(chan struct{})}
}

func (c *chanReader) deliver(pkt *rtp.Packet) {
	c.packets <- pkt
	<-c.done
}

func (c *chanReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if c.started {
		c.done <- struct{}{}
	}
	c.started = true

	pkt, ok := <-c.packets
	if !ok {
		return nil, nil, io.EOF
	}

	return pkt, nil, nil
}

type memTarget struct {
	mu      sync.Mutex
	packets []uint16
	closed  bool
}

func (m *memTarget) WriteRTP(p *rtp.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packets = append(m.packets, p.SequenceNumber)
	return nil
}

func (m *memTarget) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *memTarget) snapshot() ([]uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]uint16(nil), m.packets...), m.closed
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

func TestRemoteStore_ForwardsToCurrentTarget(t *testing.T) {
	store := newRemoteStore()
	reader := newChanReader()
	key := remoteKey{uid: "t1", kind: usecase.KindVideo}

	track := store.add(key, reader)
	assert.Equal(t, "t1-video", track.ID())

	// без приёмника пакеты читаются и выбрасываются
	reader.deliver(packet(1))

	first := &memTarget{}
	track.setTarget(first)
	reader.deliver(packet(2))

	second := &memTarget{}
	track.setTarget(second)
	reader.deliver(packet(3))

	got, closed := first.snapshot()
	assert.Equal(t, []uint16{2}, got)
	assert.True(t, closed)

	close(reader.packets)

	assert.Eventually(t, func() bool {
		_, closed := second.snapshot()
		return closed
	}, time.Second, time.Millisecond)

	got, _ = second.snapshot()
	assert.Equal(t, []uint16{3}, got)

	assert.Eventually(t, func() bool {
		_, ok := store.get(key)
		return !ok
	}, time.Second, time.Millisecond)
}

func TestRemoteStore_DetachUser(t *testing.T) {
	store := newRemoteStore()

	audio := store.add(remoteKey{uid: "t1", kind: usecase.KindAudio}, newChanReader())
	video := store.add(remoteKey{uid: "t1", kind: usecase.KindVideo}, newChanReader())

	a, v := &memTarget{}, &memTarget{}
	audio.setTarget(a)
	video.setTarget(v)

	store.detachUser("t1")

	_, aClosed := a.snapshot()
	_, vClosed := v.snapshot()
	assert.True(t, aClosed)
	assert.True(t, vClosed)

	// трек остаётся в хранилище, к нему можно привязаться заново
	_, ok := store.get(remoteKey{uid: "t1", kind: usecase.KindVideo})
	assert.True(t, ok)
}

func TestNewRenderTarget(t *testing.T) {
	dir := t.TempDir()

	video, err := NewRenderTarget(dir, "t1", usecase.KindVideo)
	require.NoError(t, err)
	require.NoError(t, video.Close())

	audio, err := NewRenderTarget(dir, "t1", usecase.KindAudio)
	require.NoError(t, err)
	require.NoError(t, audio.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = NewRenderTarget(dir, "t1", usecase.TrackKind("screen"))
	assert.Error(t, err)
}
