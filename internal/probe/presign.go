// SPDX-License-Identifier: MIT

package probe

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voxmill/settled/internal/signature"
)

// URLPresigner builds signed GET URLs for the storage gateway. The gateway
// validates the expiry and the HMAC over "key:expiry" with the shared
// presign secret.
type URLPresigner struct {
	BaseURL string
	Secret  string
	TTL     time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// PresignGet implements Presigner.
func (p *URLPresigner) PresignGet(key string) (string, error) {
	if p.BaseURL == "" {
		return "", fmt.Errorf("presigner has no base URL configured")
	}
	if key == "" {
		return "", fmt.Errorf("cannot presign empty key")
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	expires := now().Add(ttl).Unix()

	sig := signature.Sign(p.Secret, []byte(key+":"+strconv.FormatInt(expires, 10)))

	base := strings.TrimSuffix(p.BaseURL, "/")
	escaped := url.PathEscape(key)
	// PathEscape encodes "/" too; keep key segments readable.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")

	return fmt.Sprintf("%s/%s?expires=%d&signature=%s", base, escaped, expires, sig), nil
}
