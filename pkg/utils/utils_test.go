package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateOfferID()
	id2 := GenerateOfferID()

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "offer_"))
	assert.Len(t, id1, len("offer_")+32)
	assert.True(t, strings.HasPrefix(GeneratePeerID(), "peer_"))
	assert.True(t, strings.HasPrefix(GenerateSessionID(), "session_"))
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"surrounding spaces", "  XyZ123 ", "XyZ123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeString(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcd...", TruncateString("abcdefghij", 7))
	assert.Equal(t, "ab", TruncateString("abcdefghij", 2))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "Xy****", MaskSensitive("XyZ123", 2))
	assert.Equal(t, "***", MaskSensitive("abc", 5))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", FormatDuration(500*time.Millisecond))
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "1h30m", FormatDuration(90*time.Minute))
}
