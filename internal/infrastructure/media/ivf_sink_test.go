package media

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	vp8Key   = []byte{0x10, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0}
	vp8Inter = []byte{0x10, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	vp8Cont  = []byte{0x00, 0x00, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
)

type scriptedTrack struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	block   chan struct{}
}

func newScriptedTrack(payloads ...[]byte) *scriptedTrack {
	t := &scriptedTrack{}
	for i, p := range payloads {
		t.packets = append(t.packets, &rtp.Packet{
			Header:  rtp.Header{Version: 2, Marker: true, SequenceNumber: uint16(i + 1), Timestamp: uint32(i * 3000), SSRC: 42},
			Payload: p,
		})
	}
	return t
}

func (t *scriptedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if t.block != nil {
		<-t.block
		return nil, nil, io.EOF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.packets) == 0 {
		return nil, nil, io.EOF
	}
	pkt := t.packets[0]
	t.packets = t.packets[1:]
	return pkt, nil, nil
}

func (t *scriptedTrack) SSRC() webrtc.SSRC { return 42 }

type feedbackRecorder struct {
	mu   sync.Mutex
	pkts []rtcp.Packet
}

func (f *feedbackRecorder) WriteRTCP(pkts []rtcp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pkts = append(f.pkts, pkts...)
	return nil
}

func (f *feedbackRecorder) first() rtcp.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pkts[0]
}

func (f *feedbackRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pkts)
}

type bufferCloser struct {
	bytes.Buffer
	closed int
}

func (b *bufferCloser) Close() error {
	b.closed++
	return nil
}

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name    string
		mime    string
		payload []byte
		want    bool
	}{
		{"vp8 keyframe", webrtc.MimeTypeVP8, vp8Key, true},
		{"vp8 interframe", webrtc.MimeTypeVP8, vp8Inter, false},
		{"vp8 continuation", webrtc.MimeTypeVP8, vp8Cont, false},
		{"vp8 lower case mime", "video/vp8", vp8Key, true},
		{"vp9 keyframe", webrtc.MimeTypeVP9, []byte{0x0c, 0xaa, 0xbb}, true},
		{"vp9 interframe", webrtc.MimeTypeVP9, []byte{0x4c, 0xaa, 0xbb}, false},
		{"empty", webrtc.MimeTypeVP8, nil, false},
		{"unknown codec", webrtc.MimeTypeH264, []byte{0x65, 0x00}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKeyframe(tt.mime, &rtp.Packet{Payload: tt.payload}))
		})
	}
	assert.False(t, IsKeyframe(webrtc.MimeTypeVP8, nil))
}

func TestIVFSink_WritesFromFirstKeyframe(t *testing.T) {
	out := &bufferCloser{}
	feedback := &feedbackRecorder{}
	sink := NewIVFSinkWith(out, feedback, time.Second, zap.NewNop().Sugar())

	track := newScriptedTrack(vp8Inter, vp8Key, vp8Inter)
	require.NoError(t, sink.Run(context.Background(), track))

	stats := sink.Stats()
	assert.Equal(t, uint64(3), stats.Packets)
	assert.Equal(t, uint64(2), stats.Written)
	assert.True(t, stats.KeyframeSeen)
	assert.GreaterOrEqual(t, feedback.count(), 1)
	assert.Positive(t, out.closed)

	reader, header, err := ivfreader.NewWith(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "VP80", header.FourCC)

	frame, _, err := reader.ParseNextFrame()
	require.NoError(t, err)
	require.NotEmpty(t, frame)
	assert.Zero(t, frame[0]&0x01, "recording starts with a keyframe")

	_, _, err = reader.ParseNextFrame()
	require.NoError(t, err)
	_, _, err = reader.ParseNextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestIVFSink_RequestsKeyframesUntilSeen(t *testing.T) {
	feedback := &feedbackRecorder{}
	sink := NewIVFSinkWith(&bufferCloser{}, feedback, time.Hour, zap.NewNop().Sugar())
	track := &scriptedTrack{block: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx, track) }()

	require.Eventually(t, func() bool { return feedback.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	pli, ok := feedback.first().(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(42), pli.MediaSSRC)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not stop on cancel")
	}
	close(track.block)
}

func TestIVFSink_NoFeedback(t *testing.T) {
	sink := NewIVFSinkWith(&bufferCloser{}, nil, 0, zap.NewNop().Sugar())
	require.NoError(t, sink.Run(context.Background(), newScriptedTrack(vp8Key)))
	assert.Equal(t, uint64(0), sink.Stats().PLIsSent)
	assert.NoError(t, sink.Close())
}

func TestNewIVFSink_BadPath(t *testing.T) {
	_, err := NewIVFSink(t.TempDir()+"/missing/out.ivf", nil, 0, zap.NewNop().Sugar())
	assert.Error(t, err)
}
