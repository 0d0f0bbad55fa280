// SPDX-License-Identifier: MIT

// Package signature implements the HMAC-SHA256 gate for worker callbacks
// and signed storage URLs.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign computes the hex HMAC-SHA256 of body using secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the HMAC-SHA256 of the exact raw body bytes.
// The body must not be re-serialized before verification; JSON re-encoding
// can reorder keys and break the signature.
//
// The comparison is constant time. An optional "sha256=" prefix on the
// header is tolerated for workers that send the GitHub-style form.
func Verify(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")

	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
