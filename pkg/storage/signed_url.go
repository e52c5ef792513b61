package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered download tokens.
	ErrInvalidToken = errors.New("storage: invalid download token")
	// ErrTokenExpired is returned once a download token is past its expiry.
	ErrTokenExpired = errors.New("storage: download token expired")
)

// DownloadClaims is the payload carried by a signed download token.
type DownloadClaims struct {
	AttachmentID int64
	Key          string
	ExpiresAt    time.Time
}

// SignedURLSigner creates and validates short lived attachment download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token granting read access to one stored attachment.
func (s *SignedURLSigner) Generate(attachmentID int64, key string) (string, time.Time, error) {
	if attachmentID <= 0 || key == "" {
		return "", time.Time{}, fmt.Errorf("attachment id and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	id := strconv.FormatInt(attachmentID, 10)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	token := strings.Join([]string{id, exp, encodedKey, s.sign(id, exp, encodedKey)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns its claims.
func (s *SignedURLSigner) Parse(token string) (DownloadClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return DownloadClaims{}, ErrInvalidToken
	}
	id, exp, encodedKey, signature := parts[0], parts[1], parts[2], parts[3]
	if !hmac.Equal([]byte(s.sign(id, exp, encodedKey)), []byte(signature)) {
		return DownloadClaims{}, ErrInvalidToken
	}

	attachmentID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return DownloadClaims{}, ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return DownloadClaims{}, ErrInvalidToken
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return DownloadClaims{}, ErrInvalidToken
	}

	claims := DownloadClaims{AttachmentID: attachmentID, Key: string(rawKey), ExpiresAt: time.Unix(expUnix, 0).UTC()}
	if s.now().After(claims.ExpiresAt) {
		return DownloadClaims{}, ErrTokenExpired
	}
	return claims, nil
}

func (s *SignedURLSigner) sign(id, exp, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(id + "|" + exp + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
