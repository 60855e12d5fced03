package api

import (
	"github.com/programandonocosmos/cashtools-api/interfaces"
)

// Protocol constants observed in the provider's mobile API.
const (
	DefaultDiscoveryURL  = "https://prod-s0-webapp-proxy.nubank.com.br/api/app/discovery"
	DefaultCorrelationID = "and-7-86-2-1000005524.9twu3pgr"
	DefaultUserAgent     = "Cashtools Client - cl3t0"
	DefaultDeviceModel   = "MyMoney Client"

	CorrelationIDHeader = "X-Correlation-Id"
	ChallengeHeader     = "WWW-Authenticate"

	// Service names looked up in the discovery document.
	GenCertificateService = "gen_certificate"
	TokenService          = "token"

	// Legacy client credentials baked into the login protocol.
	LegacyClientID     = "legacy_client_id"
	LegacyClientSecret = "legacy_client_secret"
	PasswordGrantType  = "password"
)

// Challenge header keys after normalization.
const (
	EncryptedCodeKey = "device-authorization_encrypted-code"
	SentToKey        = "sent-to"
)

// Link names in the authentication response.
const (
	EventsLink      = "events"
	MagnitudeLink   = "magnitude"
	BillsLink       = "bills_summary"
	CustomerLink    = "customer"
	GhostflameLink  = "ghostflame"
	RevokeTokenLink = "revoke_token"
)

// ExchangeRequest is the enrollment payload extended with the one-time code
// and the encrypted challenge from the first phase.
type ExchangeRequest struct {
	interfaces.EnrollmentPayload
	Code          string `json:"code"`
	EncryptedCode string `json:"encrypted-code"`
}

// ExchangeResponse carries the issued certificate.
type ExchangeResponse struct {
	Certificate string `json:"certificate"`
}

// LoginRequest is posted over mutual TLS to the token service.
type LoginRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Login        string `json:"login"`
	Password     string `json:"password"`
}

// NewLoginRequest fills the fixed legacy client credentials.
func NewLoginRequest(login, password string) LoginRequest {
	return LoginRequest{
		GrantType:    PasswordGrantType,
		ClientID:     LegacyClientID,
		ClientSecret: LegacyClientSecret,
		Login:        login,
		Password:     password,
	}
}

type Href struct {
	Href string `json:"href"`
}

// AuthResponse is the token service response.
type AuthResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type,omitempty"`
	Links       map[string]Href `json:"_links"`
}

// ErrorResponse is returned by the simulated provider on rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
