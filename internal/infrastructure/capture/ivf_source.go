package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"go.uber.org/zap"
)

// IVFSource serves a pre-encoded screen recording as the host's capture
// surface. Frames loop until the stream is stopped.
type IVFSource struct {
	path   string
	logger *zap.SugaredLogger
}

func NewIVFSource(path string, logger *zap.SugaredLogger) *IVFSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &IVFSource{path: path, logger: logger}
}

func (s *IVFSource) Acquire(ctx context.Context, profile domain.CaptureProfile) (ports.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.path == "" {
		return nil, domain.ErrNoCaptureSource
	}

	file, err := os.Open(s.path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%s: %w", s.path, domain.ErrNoCaptureSource)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%s: %w", s.path, domain.ErrCaptureDenied)
		default:
			return nil, fmt.Errorf("open %s: %w", s.path, domain.ErrNoCaptureSource)
		}
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s is not an IVF recording (%v): %w", s.path, err, domain.ErrNoCaptureSource)
	}

	mimeType, err := mimeTypeFor(header.FourCC)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %v: %w", s.path, err, domain.ErrNoCaptureSource)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		"screen",
		"screenlink-screen",
	)
	if err != nil {
		file.Close()
		return nil, err
	}

	fps := profile.IdealFrameRate
	if fps <= 0 {
		fps = domain.DefaultCaptureProfile().IdealFrameRate
	}

	stream := &Stream{
		track:    track,
		profile:  profile,
		file:     file,
		reader:   reader,
		interval: time.Second / time.Duration(fps),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   s.logger,
	}
	stream.active.Store(true)
	go stream.pump()

	s.logger.Infow("capture acquired",
		"source", s.path,
		"codec", mimeType,
		"width", header.Width,
		"height", header.Height,
		"frame_rate", fps,
	)
	return stream, nil
}

// Release stops every track of stream. Nil and already stopped streams are fine.
func (s *IVFSource) Release(stream ports.CaptureStream) {
	if stream == nil {
		return
	}
	stream.Stop()
}

func mimeTypeFor(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", fourCC)
	}
}

// Stream is a live capture handle over one IVF file.
type Stream struct {
	track    *webrtc.TrackLocalStaticSample
	profile  domain.CaptureProfile
	file     *os.File
	reader   *ivfreader.IVFReader
	interval time.Duration
	logger   *zap.SugaredLogger

	active   atomic.Bool
	frames   atomic.Uint64
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *Stream) Profile() domain.CaptureProfile {
	return s.profile
}

func (s *Stream) Active() bool {
	return s.active.Load()
}

// Frames reports how many samples have been written so far.
func (s *Stream) Frames() uint64 {
	return s.frames.Load()
}

// Stop ends the pump and closes the file. Later calls return immediately.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.active.Store(false)
		close(s.stop)
		<-s.done
		s.file.Close()
	})
}

func (s *Stream) pump() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		frame, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if err = s.rewind(); err == nil {
				frame, _, err = s.reader.ParseNextFrame()
			}
		}
		if err != nil {
			s.logger.Warnw("capture source failed, stopping stream", "error", err)
			s.active.Store(false)
			return
		}

		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: s.interval}); err != nil {
			s.logger.Debugw("dropping frame", "error", err)
			continue
		}
		s.frames.Add(1)
	}
}

func (s *Stream) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}
