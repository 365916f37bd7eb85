package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewProjectID returns a stable opaque identifier that sorts by creation
// time: a millisecond timestamp in fixed-width hex followed by random
// entropy.
func NewProjectID() (string, error) {
	entropy := make([]byte, 5)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}
	return fmt.Sprintf("%012x%s", time.Now().UnixMilli(), hex.EncodeToString(entropy)), nil
}
