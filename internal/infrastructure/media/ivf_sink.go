package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"go.uber.org/zap"
)

const (
	// keyframe requests are sent this often until the first one arrives
	initialPLIInterval = 200 * time.Millisecond
	defaultPLIInterval = 3 * time.Second
)

// RTPReader is the read side of a remote track. *webrtc.TrackRemote
// satisfies it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	SSRC() webrtc.SSRC
}

// RTCPWriter sends feedback to the sender of a track.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// SinkStats counts what a sink has consumed.
type SinkStats struct {
	Packets      uint64
	Written      uint64
	KeyframeSeen bool
	PLIsSent     uint64
}

// IVFSink records a remote VP8 track into an IVF container. Packets before
// the first keyframe are dropped so the file always starts decodable.
type IVFSink struct {
	out         io.WriteCloser
	feedback    RTCPWriter
	pliInterval time.Duration
	logger      *zap.SugaredLogger

	packets  atomic.Uint64
	written  atomic.Uint64
	plis     atomic.Uint64
	keyframe atomic.Bool

	closeOnce sync.Once
}

// NewIVFSink creates path and returns a sink writing to it.
func NewIVFSink(path string, feedback RTCPWriter, pliInterval time.Duration, logger *zap.SugaredLogger) (*IVFSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return NewIVFSinkWith(f, feedback, pliInterval, logger), nil
}

func NewIVFSinkWith(out io.WriteCloser, feedback RTCPWriter, pliInterval time.Duration, logger *zap.SugaredLogger) *IVFSink {
	if pliInterval <= 0 {
		pliInterval = defaultPLIInterval
	}
	return &IVFSink{
		out:         out,
		feedback:    feedback,
		pliInterval: pliInterval,
		logger:      logger,
	}
}

// Run consumes track until it ends or ctx is cancelled, then closes the
// output. A track that ends normally returns nil.
func (s *IVFSink) Run(ctx context.Context, track RTPReader) error {
	defer s.Close()

	writer, err := ivfwriter.NewWith(s.out)
	if err != nil {
		return fmt.Errorf("failed to start ivf writer: %w", err)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.requestKeyframes(ctx, uint32(track.SSRC()))
	}()
	defer wg.Wait()

	packets := make(chan *rtp.Packet, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(packets)
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case packets <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				err := <-readErr
				if errors.Is(err, io.EOF) {
					s.logger.Infow("remote track ended", "packets", s.packets.Load(), "written", s.written.Load())
					return nil
				}
				return fmt.Errorf("failed to read rtp: %w", err)
			}
			s.packets.Add(1)
			if !s.keyframe.Load() {
				if !IsKeyframe(webrtc.MimeTypeVP8, pkt) {
					continue
				}
				s.keyframe.Store(true)
				s.logger.Debugw("first keyframe received", "sequence", pkt.SequenceNumber)
			}
			if err := writer.WriteRTP(pkt); err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}
			s.written.Add(1)
		}
	}
}

// requestKeyframes sends PLIs quickly until the first keyframe arrives and
// then at the configured interval.
func (s *IVFSink) requestKeyframes(ctx context.Context, ssrc uint32) {
	if s.feedback == nil {
		return
	}
	for {
		s.sendPLI(ssrc)

		wait := s.pliInterval
		if !s.keyframe.Load() {
			wait = initialPLIInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *IVFSink) sendPLI(ssrc uint32) {
	err := s.feedback.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	if err != nil {
		s.logger.Debugw("failed to send keyframe request", "error", err)
		return
	}
	s.plis.Add(1)
}

func (s *IVFSink) Stats() SinkStats {
	return SinkStats{
		Packets:      s.packets.Load(),
		Written:      s.written.Load(),
		KeyframeSeen: s.keyframe.Load(),
		PLIsSent:     s.plis.Load(),
	}
}

// Close closes the output. Run calls it on return.
func (s *IVFSink) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.out.Close() })
	return err
}
