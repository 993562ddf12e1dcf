package sessions

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives the privacy-first visitor identifier. The salt
// rotates once per session window, so repeated activity inside a window
// resolves to the same value while visitors cannot be tracked across
// windows. IP addresses are never stored - only hashed.
func Fingerprint(websiteID uint, hostname, ipAddress, userAgent, salt string, windowSeconds int, now time.Time) string {
	window := now.UTC().Unix() / int64(windowSeconds)
	data := fmt.Sprintf("%d-%s.%d.%s.%s.%s", window, salt, websiteID, hostname, ipAddress, userAgent)

	hash := blake2b.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
