package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// AlphanumericRegex matches the access code alphabet
	AlphanumericRegex = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// MaxSDPBytes bounds descriptions accepted by the relay.
const MaxSDPBytes = 32 * 1024

// ValidateSDP checks that sdp looks like a session description.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) > MaxSDPBytes {
		return fmt.Errorf("SDP is too long (max %d bytes)", MaxSDPBytes)
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}

	requiredFields := []string{"o=", "s=", "t="}
	for _, field := range requiredFields {
		if !strings.Contains(sdp, "\n"+field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

// ValidateCandidate checks a trickled ICE candidate line.
func ValidateCandidate(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return fmt.Errorf("ICE candidate is required")
	}
	if len(candidate) > 1024 {
		return fmt.Errorf("ICE candidate is too long (max 1024 characters)")
	}
	return nil
}

// ValidateAccessCodeFormat checks length bounds and, if strict, the alphabet.
func ValidateAccessCodeFormat(code string, min, max int, strict bool) error {
	if code == "" {
		return fmt.Errorf("access code is required")
	}
	if err := ValidateStringLength(code, min, max, "access code"); err != nil {
		return err
	}
	if strict && !AlphanumericRegex.MatchString(code) {
		return fmt.Errorf("access code contains invalid characters (only letters and digits allowed)")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateSignalURL is ValidateURL restricted to websocket schemes.
func ValidateSignalURL(urlStr string) error {
	if err := ValidateURL(urlStr); err != nil {
		return err
	}
	if !strings.HasPrefix(urlStr, "ws://") && !strings.HasPrefix(urlStr, "wss://") {
		return fmt.Errorf("signal URL must use ws or wss")
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
