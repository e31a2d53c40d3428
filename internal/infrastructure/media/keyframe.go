package media

import (
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// IsKeyframe reports whether packet starts an intra frame for the given
// codec. Only VP8 and VP9 are understood; anything else reports false.
func IsKeyframe(mimeType string, packet *rtp.Packet) bool {
	if packet == nil || len(packet.Payload) == 0 {
		return false
	}

	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		vp8 := &codecs.VP8Packet{}
		payload, err := vp8.Unmarshal(packet.Payload)
		if err != nil || len(payload) == 0 {
			return false
		}
		// The first partition of a frame carries the frame tag; bit 0 clear
		// marks a key frame.
		return vp8.S == 1 && vp8.PID == 0 && payload[0]&0x01 == 0

	case strings.EqualFold(mimeType, webrtc.MimeTypeVP9):
		vp9 := &codecs.VP9Packet{}
		if _, err := vp9.Unmarshal(packet.Payload); err != nil {
			return false
		}
		return vp9.B && !vp9.P
	}
	return false
}
