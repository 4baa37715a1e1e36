package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/usecase"
)

type sampleWriter interface {
	WriteSample(sample media.Sample) error
}

type sourceOpener func(d device) (sampleSource, error)

// localTrack - локальный трек, в который насос пишет сэмплы устройства.
// Выключенный трек продолжает читать источник, но сэмплы не отправляет.
type localTrack struct {
	id   string
	kind usecase.TrackKind

	track *webrtc.TrackLocalStaticSample
	sink  sampleWriter

	catalog *catalog
	open    sourceOpener

	enabled atomic.Bool

	mu     sync.Mutex
	source sampleSource
	dev    device
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func newLocalTrack(
	id string,
	kind usecase.TrackKind,
	track *webrtc.TrackLocalStaticSample,
	sink sampleWriter,
	cat *catalog,
	dev device,
	open sourceOpener,
) (*localTrack, error) {
	source, err := open(dev)
	if err != nil {
		return nil, err
	}

	t := &localTrack{
		id:      id,
		kind:    kind,
		track:   track,
		sink:    sink,
		catalog: cat,
		open:    open,
		source:  source,
		dev:     dev,
		done:    make(chan struct{}),
	}
	t.enabled.Store(true)

	t.wg.Add(1)
	go t.pump()

	return t, nil
}

func (t *localTrack) ID() string {
	return t.id
}

func (t *localTrack) Kind() usecase.TrackKind {
	return t.kind
}

func (t *localTrack) DeviceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dev.ID
}

func (t *localTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("set enabled on track %s: track closed", t.id)
	}

	t.enabled.Store(enabled)

	return nil
}

// SetDevice подменяет источник на лету. Трек и его отправитель остаются прежними.
func (t *localTrack) SetDevice(ctx context.Context, deviceID string) error {
	if t.kind != usecase.KindVideo {
		return fmt.Errorf("set device on %s track", t.kind)
	}

	dev, err := t.catalog.camera(deviceID)
	if err != nil {
		return err
	}

	source, err := t.open(dev)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		source.Close()
		return fmt.Errorf("set device on track %s: track closed", t.id)
	}

	old := t.source
	t.source = source
	t.dev = dev
	t.mu.Unlock()

	if err = old.Close(); err != nil {
		slog.Warn("close previous device", slog.Any(constant.Error, err), slog.String(constant.DeviceID, dev.ID))
	}

	return nil
}

func (t *localTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	// насос держит mu только внутри одного чтения, поэтому источник закрываем после его остановки
	t.wg.Wait()

	if err := t.source.Close(); err != nil {
		return fmt.Errorf("close source of track %s: %w", t.id, err)
	}

	return nil
}

func (t *localTrack) next() (media.Sample, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.source.Next()
}

func (t *localTrack) pump() {
	defer t.wg.Done()

	for {
		sample, err := t.next()
		if err != nil {
			slog.Error(
				"read capture device",
				slog.Any(constant.Error, err),
				slog.String(constant.TrackID, t.id),
			)
			return
		}

		if t.enabled.Load() {
			if err = t.sink.WriteSample(sample); err != nil {
				slog.Debug("write sample", slog.Any(constant.Error, err), slog.String(constant.TrackID, t.id))
			}
		}

		timer := time.NewTimer(sample.Duration)
		select {
		case <-t.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
