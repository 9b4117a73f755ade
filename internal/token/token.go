// Package token signs and verifies the HS256 JWTs used for outbound API
// auth, sync triggers and inbound webhook payloads.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("token: malformed")
	ErrSignature = errors.New("token: bad signature")
	ErrExpired   = errors.New("token: expired")
)

// DefaultLeeway tolerates clock skew between us and the remote API.
const DefaultLeeway = 5 * time.Minute

// Claims is a flat JWT claims map. iat/exp are managed by Sign.
type Claims map[string]any

// Sign produces an HS256 JWT over claims, stamping iat and exp from now
// and ttl. now may be nil to use the wall clock.
func Sign(claims Claims, secret string, ttl time.Duration, now func() time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("token: empty secret")
	}
	if now == nil {
		now = time.Now
	}
	t := now().UTC()
	all := make(map[string]any, len(claims)+2)
	for k, v := range claims {
		all[k] = v
	}
	all["iat"] = t.Unix()
	all["exp"] = t.Add(ttl).Unix()
	header := `{"alg":"HS256","typ":"JWT"}`
	payload, err := json.Marshal(all)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}
	signingInput := b64url([]byte(header)) + "." + b64url(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + b64url(mac.Sum(nil)), nil
}

// Verify checks the signature and expiry of an HS256 JWT and returns its
// claims. leeway <= 0 means DefaultLeeway. now may be nil.
func Verify(tok, secret string, leeway time.Duration, now func() time.Time) (Claims, error) {
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	if now == nil {
		now = time.Now
	}
	segs := strings.Split(strings.TrimSpace(tok), ".")
	if len(segs) != 3 {
		return nil, ErrMalformed
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return nil, ErrMalformed
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return nil, ErrMalformed
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return nil, ErrMalformed
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return nil, ErrMalformed
	}
	if hdr.Alg != "HS256" {
		return nil, ErrMalformed
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return nil, ErrSignature
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, ErrMalformed
	}
	if exp, ok := numClaim(claims, "exp"); ok {
		if now().UTC().Add(-leeway).Unix() > int64(exp) {
			return nil, ErrExpired
		}
	}
	return claims, nil
}

// String returns the claim as a string, or "" when absent or not a string.
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

func numClaim(c Claims, key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
