package rtc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/qrave1/LiveClass/internal/domain"
)

const (
	opusSampleRate = 48000
	// длительность страницы, если granule position не двигается (например, страница с тегами)
	defaultOggPageDuration = 20 * time.Millisecond
)

// sampleSource отдаёт сэмплы устройства по кругу: на EOF файл перематывается
type sampleSource interface {
	Next() (media.Sample, error)
	Close() error
}

type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func newOggSource(d device) (sampleSource, error) {
	f, err := openDevice(d)
	if err != nil {
		return nil, err
	}

	s := &oggSource{file: f}
	if err = s.rewind(); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind ogg: %w", domain.ErrMediaInitFailed, err)
	}

	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return fmt.Errorf("%w: read ogg header: %w", domain.ErrMediaInitFailed, err)
	}

	s.reader = reader
	s.lastGranule = 0

	return nil
}

func (s *oggSource) Next() (media.Sample, error) {
	for rewound := false; ; {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) && !rewound {
			if err = s.rewind(); err != nil {
				return media.Sample{}, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return media.Sample{}, fmt.Errorf("parse ogg page: %w", err)
		}

		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		duration := defaultOggPageDuration
		if header.GranulePosition > s.lastGranule {
			samples := header.GranulePosition - s.lastGranule
			duration = time.Duration(samples) * time.Second / opusSampleRate
		}
		s.lastGranule = header.GranulePosition

		return media.Sample{Data: page, Duration: duration}, nil
	}
}

func (s *oggSource) Close() error {
	return s.file.Close()
}

type ivfSource struct {
	file          *os.File
	reader        *ivfreader.IVFReader
	frameDuration time.Duration
}

func newIVFSource(d device) (sampleSource, error) {
	f, err := openDevice(d)
	if err != nil {
		return nil, err
	}

	s := &ivfSource{file: f}
	if err = s.rewind(); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind ivf: %w", domain.ErrMediaInitFailed, err)
	}

	reader, header, err := ivfreader.NewWith(s.file)
	if err != nil {
		return fmt.Errorf("%w: read ivf header: %w", domain.ErrMediaInitFailed, err)
	}

	if header.TimebaseDenominator == 0 {
		return fmt.Errorf("%w: ivf timebase is zero", domain.ErrMediaInitFailed)
	}

	s.reader = reader
	s.frameDuration = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)

	return nil
}

func (s *ivfSource) Next() (media.Sample, error) {
	for rewound := false; ; {
		frame, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) && !rewound {
			if err = s.rewind(); err != nil {
				return media.Sample{}, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return media.Sample{}, fmt.Errorf("parse ivf frame: %w", err)
		}

		return media.Sample{Data: frame, Duration: s.frameDuration}, nil
	}
}

func (s *ivfSource) Close() error {
	return s.file.Close()
}
