package httpserver

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	errChallengeInvalid = errors.New("encrypted code invalid")
	errChallengeExpired = errors.New("encrypted code expired")
)

// pendingCode is the state the provider hands to the device sealed inside
// the encrypted-code challenge field. The provider keeps nothing per attempt.
type pendingCode struct {
	Code      string `json:"code"`
	Login     string `json:"login"`
	DeviceID  string `json:"device_id"`
	KeyDigest string `json:"key_digest"`
	Expires   int64  `json:"exp"`
}

type sealer struct {
	aead cipher.AEAD
}

// newSealer returns a sealer keyed with a fresh random key. Codes sealed by
// one sealer cannot be opened by another.
func newSealer() (*sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("could not generate sealing key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts p as base64(nonce || ciphertext).
func (s *sealer) seal(p pendingCode) (string, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

func (s *sealer) open(sealed string, now time.Time) (pendingCode, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return pendingCode{}, errChallengeInvalid
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return pendingCode{}, errChallengeInvalid
	}

	var p pendingCode
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return pendingCode{}, errChallengeInvalid
	}
	if now.Unix() > p.Expires {
		return pendingCode{}, errChallengeExpired
	}
	return p, nil
}

// newOneTimeCode returns a uniformly random six digit code.
func newOneTimeCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func keyDigest(publicKeyPEM string) string {
	sum := sha256.Sum256([]byte(publicKeyPEM))
	return hex.EncodeToString(sum[:])
}

// MaskDestination hides most of a delivery destination the way the provider
// reports it: the first letter of an email's local part, or the last four
// characters of anything else.
func MaskDestination(destination string) string {
	if local, domain, ok := strings.Cut(destination, "@"); ok && local != "" {
		first, _ := utf8.DecodeRuneInString(local)
		return string(first) + "***@" + domain
	}
	runes := []rune(destination)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}

// challengeHeader renders the WWW-Authenticate value answering a code request.
func challengeHeader(encryptedCode, sentTo string) string {
	return fmt.Sprintf(`device-authorization encrypted-code="%s", sent-to="%s"`, encryptedCode, sentTo)
}
