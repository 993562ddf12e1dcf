package v1

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CacheHeader carries the signed session token between tracker and
// server so repeat hits skip fingerprint resolution.
const CacheHeader = "X-Sitelens-Cache"

// signSessionToken produces the opaque cache token for a resolved
// session: the session id plus an HMAC binding it to the server key.
func signSessionToken(privateKey, sessionID string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(sessionID))
	return sessionID + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifySessionToken extracts the session id from a cache token,
// rejecting tokens that were not signed by this server.
func verifySessionToken(privateKey, token string) (string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return "", false
	}
	sessionID, signature := token[:idx], token[idx+1:]

	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(sessionID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}
	return sessionID, true
}
