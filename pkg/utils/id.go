package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns prefix_ followed by a random UUID without dashes.
func GenerateID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func GeneratePeerID() string {
	return GenerateID("peer")
}

func GenerateOfferID() string {
	return GenerateID("offer")
}

func GenerateSessionID() string {
	return GenerateID("session")
}
