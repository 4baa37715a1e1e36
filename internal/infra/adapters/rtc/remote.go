package rtc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/usecase"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type remoteKey struct {
	uid  string
	kind usecase.TrackKind
}

// remoteTrack читает RTP удалённого трека и отдаёт пакеты текущему приёмнику.
// Чтение идёт всегда, даже без приёмника: иначе буфер pion переполнится.
type remoteTrack struct {
	key    remoteKey
	reader rtpReader

	mu     sync.Mutex
	target usecase.RenderTarget
}

func (r *remoteTrack) ID() string {
	return r.key.uid + "-" + string(r.key.kind)
}

func (r *remoteTrack) Kind() usecase.TrackKind {
	return r.key.kind
}

func (r *remoteTrack) setTarget(target usecase.RenderTarget) {
	r.mu.Lock()
	old := r.target
	r.target = target
	r.mu.Unlock()

	if old != nil && old != target {
		if err := old.Close(); err != nil {
			slog.Warn("close render target", slog.Any(constant.Error, err), slog.String(constant.RemoteUID, r.key.uid))
		}
	}
}

func (r *remoteTrack) forward(onDone func()) {
	defer onDone()
	defer r.setTarget(nil)

	for {
		pkt, _, err := r.reader.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("remote RTP read", slog.Any(constant.Error, err), slog.String(constant.RemoteUID, r.key.uid))
			}
			return
		}

		r.mu.Lock()
		if r.target != nil {
			if err = r.target.WriteRTP(pkt); err != nil {
				slog.Debug("write RTP to target", slog.Any(constant.Error, err), slog.String(constant.RemoteUID, r.key.uid))
			}
		}
		r.mu.Unlock()
	}
}

type remoteStore struct {
	tracks map[remoteKey]*remoteTrack
	mu     sync.RWMutex
}

func newRemoteStore() *remoteStore {
	return &remoteStore{tracks: make(map[remoteKey]*remoteTrack)}
}

// add регистрирует трек и запускает пересылку. Трек пропадает из хранилища, когда чтение заканчивается.
func (s *remoteStore) add(key remoteKey, reader rtpReader) *remoteTrack {
	t := &remoteTrack{key: key, reader: reader}

	s.mu.Lock()
	prev := s.tracks[key]
	s.tracks[key] = t
	s.mu.Unlock()

	if prev != nil {
		prev.setTarget(nil)
	}

	go t.forward(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.tracks[key] == t {
			delete(s.tracks, key)
		}
	})

	return t
}

func (s *remoteStore) get(key remoteKey) (*remoteTrack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[key]
	return t, ok
}

func (s *remoteStore) detach(key remoteKey) {
	if t, ok := s.get(key); ok {
		t.setTarget(nil)
	}
}

func (s *remoteStore) detachUser(uid string) {
	s.detach(remoteKey{uid: uid, kind: usecase.KindAudio})
	s.detach(remoteKey{uid: uid, kind: usecase.KindVideo})
}

func (s *remoteStore) detachAll() {
	s.mu.RLock()
	tracks := make([]*remoteTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	s.mu.RUnlock()

	for _, t := range tracks {
		t.setTarget(nil)
	}
}

// NewRenderTarget открывает файл-приёмник в dir: ivf для видео, ogg для звука
func NewRenderTarget(dir, uid string, kind usecase.TrackKind) (usecase.RenderTarget, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405")

	switch kind {
	case usecase.KindVideo:
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.ivf", uid, stamp))

		w, err := ivfwriter.New(path)
		if err != nil {
			return nil, fmt.Errorf("create ivf writer: %w", err)
		}

		return w, nil
	case usecase.KindAudio:
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.ogg", uid, stamp))

		w, err := oggwriter.New(path, opusSampleRate, 2)
		if err != nil {
			return nil, fmt.Errorf("create ogg writer: %w", err)
		}

		return w, nil
	default:
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}
}
