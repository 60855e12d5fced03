package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServiceResolver resolves a logical service name to a concrete URL.
type ServiceResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// DiscoveryDocument maps logical service names to absolute URLs.
type DiscoveryDocument map[string]string

// Lookup returns the URL registered for name.
// An unknown name is always an error, never a default.
func (d DiscoveryDocument) Lookup(name string) (string, error) {
	url, ok := d[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrServiceNameNotFound, name)
	}
	return url, nil
}

// EnrollmentPayload is the body of the certificate enrollment request.
// It is built once per attempt and reused unmodified for the exchange.
type EnrollmentPayload struct {
	Login    string `json:"login"`
	Password string `json:"password"`

	// PublicKey is the PEM public key the issued certificate will bind to.
	PublicKey string `json:"public_key"`

	// PublicKeyCrypto is a second, independent PEM public key the remote
	// protocol requires. It has no local use.
	PublicKeyCrypto string `json:"public_key_crypto"`

	Model    string `json:"model"`
	DeviceID string `json:"device_id"`
}

// String omits the password and key material.
func (p EnrollmentPayload) String() string {
	return fmt.Sprintf("EnrollmentPayload{login:%s model:%q device_id:%s}", p.Login, p.Model, p.DeviceID)
}

// ChallengeState is extracted from the enrollment challenge header and held
// until the caller supplies the one-time code.
type ChallengeState struct {
	// EncryptedCode is opaque and echoed back on exchange.
	EncryptedCode string

	// SentTo is the masked destination the one-time code was sent to.
	SentTo string
}

// AuthSession is the result of a successful mutual-TLS login.
type AuthSession struct {
	AccessToken    string `json:"access_token"`
	FeedURL        string `json:"feed_url"`
	BillsURL       string `json:"bills_url"`
	CustomerURL    string `json:"customer_url"`
	QueryURL       string `json:"query_url"`
	RevokeTokenURL string `json:"revoke_token_url"`
}

// Redacted returns a copy safe for printing and logging.
func (s AuthSession) Redacted() AuthSession {
	if s.AccessToken != "" {
		s.AccessToken = "***"
	}
	return s
}

// MarshalIndent is a convenience for CLI output.
func (s AuthSession) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
