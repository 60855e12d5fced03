package httpserver

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/cryptoutils"
	"go.uber.org/atomic"
)

const (
	// maxBodySize is the maximum allowed request body size (64KB).
	maxBodySize = 64 * 1024

	// DefaultCodeTTL bounds how long an encrypted code can be exchanged.
	DefaultCodeTTL = 5 * time.Minute
)

// Paths served by the simulated provider.
const (
	DiscoveryPath      = "/api/app/discovery"
	GenCertificatePath = "/api/gen-certificate"
	TokenPath          = "/api/token"
	RevokeTokenPath    = "/api/revoke-token"
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func requestError(status int, format string, args ...any) *RequestError {
	return &RequestError{StatusCode: status, Err: fmt.Errorf(format, args...)}
}

// Account is a customer known to the simulated provider.
type Account struct {
	Login    string
	Password string

	// Destination receives one-time codes. Defaults to the login.
	Destination string
}

// CodeSink delivers one-time codes out of band.
type CodeSink interface {
	Deliver(ctx context.Context, destination, code string) error
}

// LogSink writes one-time codes to a logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, destination, code string) error {
	s.Log.InfoContext(ctx, "One-time code issued", "destination", destination, "code", code)
	return nil
}

// Stats counts requests per endpoint.
type Stats struct {
	Discovery    int64
	CodeRequests int64
	Exchanges    int64
	Logins       int64
}

type tokenGrant struct {
	login    string
	deviceID string
}

// Handler implements the mobile API of the simulated provider: discovery,
// two-phase device certificate issuance and the mutual-TLS token endpoint.
type Handler struct {
	authority *cryptoutils.Authority
	accounts  map[string]Account
	sink      CodeSink
	sealer    *sealer
	log       *slog.Logger

	// CodeTTL bounds how long an encrypted code stays valid.
	CodeTTL time.Duration
	now     func() time.Time

	tokensMu sync.Mutex
	tokens   map[string]tokenGrant

	discoveryCount atomic.Int64
	codeCount      atomic.Int64
	exchangeCount  atomic.Int64
	loginCount     atomic.Int64
}

// NewHandler creates a provider handler issuing device certificates from authority.
//
// Parameters:
//   - authority: CA signing device certificates and trusted for client authentication
//   - accounts: customers allowed to enroll and log in
//   - sink: receives every one-time code issued
//   - log: Structured logger for operational insights
func NewHandler(authority *cryptoutils.Authority, accounts []Account, sink CodeSink, log *slog.Logger) (*Handler, error) {
	if authority == nil {
		return nil, errors.New("no certificate authority")
	}
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Log: log}
	}

	s, err := newSealer()
	if err != nil {
		return nil, err
	}

	byLogin := make(map[string]Account, len(accounts))
	for _, account := range accounts {
		if account.Destination == "" {
			account.Destination = account.Login
		}
		byLogin[account.Login] = account
	}

	return &Handler{
		authority: authority,
		accounts:  byLogin,
		sink:      sink,
		sealer:    s,
		log:       log,
		CodeTTL:   DefaultCodeTTL,
		now:       time.Now,
		tokens:    make(map[string]tokenGrant),
	}, nil
}

// TLSConfig returns a server configuration presenting a certificate for
// hosts and accepting device certificates issued by the handler's authority.
// Client certificates are optional at the TLS layer; the token endpoint
// rejects requests without one.
func (h *Handler) TLSConfig(hosts ...string) (*tls.Config, error) {
	cert, err := h.authority.ServerCertificate(hosts...)
	if err != nil {
		return nil, fmt.Errorf("could not issue server certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    h.authority.Pool(),
	}, nil
}

// Stats returns the request counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Discovery:    h.discoveryCount.Load(),
		CodeRequests: h.codeCount.Load(),
		Exchanges:    h.exchangeCount.Load(),
		Logins:       h.loginCount.Load(),
	}
}

// HandleDiscovery serves the discovery document with URLs on the requested host.
//
// URL format: GET /api/app/discovery
func (h *Handler) HandleDiscovery(w http.ResponseWriter, r *http.Request) {
	h.discoveryCount.Inc()
	base := baseURL(r)

	writeJSON(w, http.StatusOK, map[string]string{
		api.GenCertificateService: base + GenCertificatePath,
		api.TokenService:          base + TokenPath,
		"register_prospect":       base + "/api/proxy/register_prospect",
		"faq":                     base + "/api/proxy/faq",
	})
}

// HandleGenCertificate runs both enrollment phases on one endpoint.
//
// URL format: POST /api/gen-certificate
//
// A body without "code" requests a one-time code. The response is 401 with
//
//	WWW-Authenticate: device-authorization encrypted-code="...", sent-to="..."
//
// A body carrying "code" and "encrypted-code" exchanges the code for a
// client certificate bound to "public_key", returned as {"certificate": PEM}.
func (h *Handler) HandleGenCertificate(w http.ResponseWriter, r *http.Request) {
	var req api.ExchangeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.validatePayload(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.Code == "" {
		h.codeCount.Inc()
		h.issueCode(w, r, &req)
		return
	}

	h.exchangeCount.Inc()
	h.issueCertificate(w, r, &req)
}

func (h *Handler) validatePayload(req *api.ExchangeRequest) error {
	if _, err := h.checkAccount(req.Login, req.Password); err != nil {
		return err
	}
	if req.DeviceID == "" || req.Model == "" {
		return requestError(http.StatusBadRequest, "device_id and model are required")
	}
	if _, err := cryptoutils.NewPublicKeyPEM([]byte(req.PublicKey)); err != nil {
		return requestError(http.StatusBadRequest, "public_key: %v", err)
	}
	if _, err := cryptoutils.NewPublicKeyPEM([]byte(req.PublicKeyCrypto)); err != nil {
		return requestError(http.StatusBadRequest, "public_key_crypto: %v", err)
	}
	return nil
}

func (h *Handler) issueCode(w http.ResponseWriter, r *http.Request, req *api.ExchangeRequest) {
	account := h.accounts[req.Login]

	code, err := newOneTimeCode()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sealed, err := h.sealer.seal(pendingCode{
		Code:      code,
		Login:     req.Login,
		DeviceID:  req.DeviceID,
		KeyDigest: keyDigest(req.PublicKey),
		Expires:   h.now().Add(h.CodeTTL).Unix(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.sink.Deliver(r.Context(), account.Destination, code); err != nil {
		h.log.ErrorContext(r.Context(), "Failed to deliver one-time code", "login", req.Login, "err", err)
		h.writeError(w, r, requestError(http.StatusServiceUnavailable, "could not deliver code"))
		return
	}

	h.log.InfoContext(r.Context(), "One-time code requested", "login", req.Login, "deviceID", req.DeviceID)
	w.Header().Set(api.ChallengeHeader, challengeHeader(sealed, MaskDestination(account.Destination)))
	writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "device authorization required"})
}

func (h *Handler) issueCertificate(w http.ResponseWriter, r *http.Request, req *api.ExchangeRequest) {
	pending, err := h.sealer.open(req.EncryptedCode, h.now())
	if err != nil {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusForbidden, Err: err})
		return
	}

	if pending.Login != req.Login || pending.DeviceID != req.DeviceID || pending.KeyDigest != keyDigest(req.PublicKey) {
		h.writeError(w, r, requestError(http.StatusForbidden, "encrypted code was issued for another device"))
		return
	}
	if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(req.Code)) != 1 {
		h.log.WarnContext(r.Context(), "Wrong one-time code", "login", req.Login, "deviceID", req.DeviceID)
		h.writeError(w, r, requestError(http.StatusForbidden, "wrong code"))
		return
	}

	pub, err := cryptoutils.PublicKeyPEM(req.PublicKey).GetRSAPublicKey()
	if err != nil {
		h.writeError(w, r, requestError(http.StatusBadRequest, "public_key: %v", err))
		return
	}

	cert, err := h.authority.IssueClientCertificate(pub, req.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.InfoContext(r.Context(), "Device certificate issued", "login", req.Login, "deviceID", req.DeviceID)
	writeJSON(w, http.StatusOK, api.ExchangeResponse{Certificate: string(cert)})
}

// HandleToken logs a customer in. The request must present a device
// certificate issued by the provider.
//
// URL format: POST /api/token
//
// Response: access_token and the "_links" map of service URLs.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	h.loginCount.Inc()

	deviceID, err := h.verifyPeer(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.GrantType != api.PasswordGrantType {
		h.writeError(w, r, requestError(http.StatusBadRequest, "unsupported grant_type %q", req.GrantType))
		return
	}
	if req.ClientID != api.LegacyClientID || req.ClientSecret != api.LegacyClientSecret {
		h.writeError(w, r, requestError(http.StatusUnauthorized, "invalid client credentials"))
		return
	}
	if _, err := h.checkAccount(req.Login, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	token := uuid.NewString()
	h.tokensMu.Lock()
	h.tokens[token] = tokenGrant{login: req.Login, deviceID: deviceID}
	h.tokensMu.Unlock()

	h.log.InfoContext(r.Context(), "Session issued", "login", req.Login, "deviceID", deviceID)

	base := baseURL(r)
	writeJSON(w, http.StatusOK, api.AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		Links: map[string]api.Href{
			api.EventsLink:      {Href: base + "/api/proxy/events"},
			api.MagnitudeLink:   {Href: base + "/api/proxy/magnitude"},
			api.BillsLink:       {Href: base + "/api/proxy/bills_summary"},
			api.CustomerLink:    {Href: base + "/api/proxy/customer"},
			api.GhostflameLink:  {Href: base + "/api/proxy/ghostflame"},
			api.RevokeTokenLink: {Href: base + RevokeTokenPath},
		},
	})
}

// HandleRevokeToken invalidates the bearer token of the request.
//
// URL format: POST /api/revoke-token
func (h *Handler) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		h.writeError(w, r, requestError(http.StatusUnauthorized, "missing bearer token"))
		return
	}

	h.tokensMu.Lock()
	_, known := h.tokens[token]
	delete(h.tokens, token)
	h.tokensMu.Unlock()

	if !known {
		h.writeError(w, r, requestError(http.StatusUnauthorized, "unknown token"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TokenValid reports whether token was issued and not revoked.
func (h *Handler) TokenValid(token string) bool {
	h.tokensMu.Lock()
	defer h.tokensMu.Unlock()
	_, ok := h.tokens[token]
	return ok
}

// verifyPeer returns the device id of the verified client certificate.
func (h *Handler) verifyPeer(r *http.Request) (string, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return "", requestError(http.StatusUnauthorized, "client certificate required")
	}

	leaf := r.TLS.PeerCertificates[0]
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
	if err := h.authority.CACert().VerifyClientCertificate(cryptoutils.TLSCert(certPEM)); err != nil {
		return "", requestError(http.StatusUnauthorized, "client certificate rejected: %v", err)
	}
	return leaf.Subject.CommonName, nil
}

func (h *Handler) checkAccount(login, password string) (Account, error) {
	account, ok := h.accounts[login]
	if !ok || subtle.ConstantTimeCompare([]byte(account.Password), []byte(password)) != 1 {
		return Account{}, requestError(http.StatusForbidden, "invalid login or password")
	}
	return account, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.StatusCode
	}
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "Request failed", "err", err)
	}
	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return requestError(http.StatusBadRequest, "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
