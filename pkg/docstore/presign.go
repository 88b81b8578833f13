package docstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// urlSigner mints and verifies time-limited capability tokens for the
// LocalProvider's presigned URLs.
//
// The teacher's pkg/manager/token.go generates a random token and checks
// it against an in-memory map with an expiry. That shape doesn't survive
// a process restart, which a document's presigned URLs must (a client
// may hold an upload URL across a reconnect): this signer is stateless
// instead, HMAC-signing the key and expiry so any process holding the
// same secret can verify a token without having minted it.
type urlSigner struct {
	secret []byte
}

func newURLSigner(secret []byte) *urlSigner {
	return &urlSigner{secret: secret}
}

// sign returns an opaque token authorizing access to key until expiresAt.
func (s *urlSigner) sign(key string, expiresAt time.Time) string {
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	mac := s.mac(key, exp)
	payload := exp + "." + mac
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// verify checks a token minted by sign against key, rejecting expired or
// tampered tokens.
func (s *urlSigner) verify(key, token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("malformed token")
	}
	parts := strings.SplitN(string(raw), ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed token")
	}
	exp, mac := parts[0], parts[1]

	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed token")
	}
	if time.Now().Unix() > expUnix {
		return fmt.Errorf("token expired")
	}
	if !hmac.Equal([]byte(mac), []byte(s.mac(key, exp))) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

func (s *urlSigner) mac(key, exp string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(exp))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
