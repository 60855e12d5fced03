package httpserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/challenge"
	"github.com/programandonocosmos/cashtools-api/cryptoutils"
	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLogin    = "12345678900"
	testPassword = "hunter2"
)

type captureSink struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *captureSink) Deliver(_ context.Context, destination, code string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[destination] = code
	return nil
}

func (s *captureSink) code(destination string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[destination]
}

type provider struct {
	authority *cryptoutils.Authority
	handler   *Handler
	server    *Server
	sink      *captureSink
	srv       *httptest.Server
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authority, err := cryptoutils.NewAuthority("test provider CA")
	require.NoError(t, err)

	sink := &captureSink{}
	handler, err := NewHandler(authority, []Account{
		{Login: testLogin, Password: testPassword, Destination: "john@example.com"},
	}, sink, logger)
	require.NoError(t, err)

	server, err := New(&api.HTTPServerConfig{Log: logger}, handler, nil)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(server.Router())
	srv.TLS = &tls.Config{
		ClientAuth: tls.VerifyClientCertIfGiven,
		ClientCAs:  authority.Pool(),
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	return &provider{authority: authority, handler: handler, server: server, sink: sink, srv: srv}
}

func (p *provider) client(certs ...tls.Certificate) *http.Client {
	pool := x509.NewCertPool()
	pool.AddCert(p.srv.Certificate())
	return &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{
		RootCAs:      pool,
		Certificates: certs,
	}}}
}

func (p *provider) post(t *testing.T, client *http.Client, path string, body any) (*http.Response, []byte) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := client.Post(p.srv.URL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	respBody, err := api.ReadBody(resp)
	require.NoError(t, err)
	return resp, respBody
}

func newPayload(t *testing.T, deviceID string) (interfaces.EnrollmentPayload, *cryptoutils.KeyPair) {
	t.Helper()
	kp, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)
	pub, err := cryptoutils.ExportPublicPEM(kp)
	require.NoError(t, err)

	cryptoKP, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)
	pubCrypto, err := cryptoutils.ExportPublicPEM(cryptoKP)
	require.NoError(t, err)

	return interfaces.EnrollmentPayload{
		Login:           testLogin,
		Password:        testPassword,
		PublicKey:       string(pub),
		PublicKeyCrypto: string(pubCrypto),
		Model:           "MyMoney Client (" + deviceID + ")",
		DeviceID:        deviceID,
	}, kp
}

// requestCode runs the first enrollment phase and returns the parsed challenge.
func (p *provider) requestCode(t *testing.T, payload interfaces.EnrollmentPayload) interfaces.ChallengeState {
	t.Helper()
	resp, _ := p.post(t, p.client(), GenCertificatePath, payload)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	state, err := challenge.Extract(resp.Header.Get(api.ChallengeHeader))
	require.NoError(t, err)
	return state
}

func TestDiscovery(t *testing.T) {
	p := newProvider(t)

	resp, err := p.client().Get(p.srv.URL + DiscoveryPath)
	require.NoError(t, err)
	body, err := api.ReadBody(resp)
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, p.srv.URL+GenCertificatePath, doc[api.GenCertificateService])
	assert.Equal(t, p.srv.URL+TokenPath, doc[api.TokenService])
	assert.Equal(t, int64(1), p.handler.Stats().Discovery)
}

func TestGenCertificate(t *testing.T) {
	p := newProvider(t)
	payload, kp := newPayload(t, "abcdef123456")

	state := p.requestCode(t, payload)
	assert.Equal(t, "j***@example.com", state.SentTo)
	assert.NotEmpty(t, state.EncryptedCode)

	code := p.sink.code("john@example.com")
	require.Len(t, code, 6)

	resp, body := p.post(t, p.client(), GenCertificatePath, api.ExchangeRequest{
		EnrollmentPayload: payload,
		Code:              code,
		EncryptedCode:     state.EncryptedCode,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var exchanged api.ExchangeResponse
	require.NoError(t, json.Unmarshal(body, &exchanged))

	cert, err := cryptoutils.NewTLSCert([]byte(exchanged.Certificate))
	require.NoError(t, err)
	require.NoError(t, p.authority.CACert().VerifyClientCertificate(cert))

	leaf, err := cert.GetX509Cert()
	require.NoError(t, err)
	assert.Equal(t, "abcdef123456", leaf.Subject.CommonName)
	assert.True(t, kp.Public().Equal(leaf.PublicKey))

	assert.Equal(t, Stats{CodeRequests: 1, Exchanges: 1}, p.handler.Stats())
}

func TestGenCertificate_Rejections(t *testing.T) {
	p := newProvider(t)

	t.Run("wrong password", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000001")
		payload.Password = "nope"
		resp, _ := p.post(t, p.client(), GenCertificatePath, payload)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(api.ChallengeHeader))
	})

	t.Run("unknown login", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000001")
		payload.Login = "00000000000"
		resp, _ := p.post(t, p.client(), GenCertificatePath, payload)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("invalid public key", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000001")
		payload.PublicKey = "not a key"
		resp, _ := p.post(t, p.client(), GenCertificatePath, payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing device id", func(t *testing.T) {
		payload, _ := newPayload(t, "")
		resp, _ := p.post(t, p.client(), GenCertificatePath, payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not json", func(t *testing.T) {
		resp, err := p.client().Post(p.srv.URL+GenCertificatePath, "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	exchange := func(t *testing.T, payload interfaces.EnrollmentPayload, code, encrypted string) int {
		resp, _ := p.post(t, p.client(), GenCertificatePath, api.ExchangeRequest{
			EnrollmentPayload: payload,
			Code:              code,
			EncryptedCode:     encrypted,
		})
		return resp.StatusCode
	}

	t.Run("wrong code", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000002")
		state := p.requestCode(t, payload)
		code := p.sink.code("john@example.com")

		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		assert.Equal(t, http.StatusForbidden, exchange(t, payload, wrong, state.EncryptedCode))
	})

	t.Run("tampered encrypted code", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000003")
		state := p.requestCode(t, payload)
		code := p.sink.code("john@example.com")

		assert.Equal(t, http.StatusForbidden, exchange(t, payload, code, "AAAA"+state.EncryptedCode[4:]))
	})

	t.Run("other device", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000004")
		state := p.requestCode(t, payload)
		code := p.sink.code("john@example.com")

		payload.DeviceID = "dev000000005"
		assert.Equal(t, http.StatusForbidden, exchange(t, payload, code, state.EncryptedCode))
	})

	t.Run("other key", func(t *testing.T) {
		payload, _ := newPayload(t, "dev000000006")
		state := p.requestCode(t, payload)
		code := p.sink.code("john@example.com")

		other, _ := newPayload(t, "dev000000006")
		assert.Equal(t, http.StatusForbidden, exchange(t, other, code, state.EncryptedCode))
	})
}

func TestGenCertificate_Expired(t *testing.T) {
	p := newProvider(t)
	p.handler.CodeTTL = -time.Second

	payload, _ := newPayload(t, "dev000000007")
	state := p.requestCode(t, payload)

	resp, body := p.post(t, p.client(), GenCertificatePath, api.ExchangeRequest{
		EnrollmentPayload: payload,
		Code:              p.sink.code("john@example.com"),
		EncryptedCode:     state.EncryptedCode,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), errChallengeExpired.Error())
}

func TestGenCertificate_SinkFailure(t *testing.T) {
	p := newProvider(t)
	p.sink.err = errors.New("smtp down")

	payload, _ := newPayload(t, "dev000000008")
	resp, _ := p.post(t, p.client(), GenCertificatePath, payload)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(api.ChallengeHeader))
}

// deviceIdentity returns a client certificate issued by authority for cn.
func deviceIdentity(t *testing.T, authority *cryptoutils.Authority, cn string) tls.Certificate {
	t.Helper()
	kp, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)
	certPEM, err := authority.IssueClientCertificate(kp.Public(), cn)
	require.NoError(t, err)
	archive, err := cryptoutils.BundleIdentity(certPEM, kp.Private)
	require.NoError(t, err)
	identity, err := cryptoutils.LoadIdentity(archive)
	require.NoError(t, err)
	return identity
}

func TestToken(t *testing.T) {
	p := newProvider(t)
	client := p.client(deviceIdentity(t, p.authority, "device01"))

	resp, body := p.post(t, client, TokenPath, api.NewLoginRequest(testLogin, testPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var auth api.AuthResponse
	require.NoError(t, json.Unmarshal(body, &auth))
	require.NotEmpty(t, auth.AccessToken)
	assert.True(t, p.handler.TokenValid(auth.AccessToken))
	for _, link := range []string{api.EventsLink, api.BillsLink, api.CustomerLink, api.GhostflameLink, api.RevokeTokenLink} {
		assert.NotEmpty(t, auth.Links[link].Href, link)
	}
	assert.Equal(t, p.srv.URL+RevokeTokenPath, auth.Links[api.RevokeTokenLink].Href)

	revoke := func() int {
		req, err := http.NewRequest(http.MethodPost, auth.Links[api.RevokeTokenLink].Href, nil)
		require.NoError(t, err)
		api.SetBearer(req, auth.AccessToken)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, revoke())
	assert.False(t, p.handler.TokenValid(auth.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, revoke())
}

func TestToken_Rejections(t *testing.T) {
	p := newProvider(t)
	withCert := p.client(deviceIdentity(t, p.authority, "device01"))

	tests := []struct {
		name     string
		client   *http.Client
		body     api.LoginRequest
		expected int
	}{
		{
			name:     "no client certificate",
			client:   p.client(),
			body:     api.NewLoginRequest(testLogin, testPassword),
			expected: http.StatusUnauthorized,
		},
		{
			name:     "wrong password",
			client:   withCert,
			body:     api.NewLoginRequest(testLogin, "nope"),
			expected: http.StatusForbidden,
		},
		{
			name:   "wrong client credentials",
			client: withCert,
			body: api.LoginRequest{
				GrantType:    api.PasswordGrantType,
				ClientID:     "other",
				ClientSecret: api.LegacyClientSecret,
				Login:        testLogin,
				Password:     testPassword,
			},
			expected: http.StatusUnauthorized,
		},
		{
			name:     "unsupported grant",
			client:   withCert,
			body:     api.LoginRequest{GrantType: "refresh_token"},
			expected: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := p.post(t, tt.client, TokenPath, tt.body)
			assert.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}

func TestToken_ForeignCertificate(t *testing.T) {
	p := newProvider(t)

	other, err := cryptoutils.NewAuthority("someone else")
	require.NoError(t, err)

	encoded, err := json.Marshal(api.NewLoginRequest(testLogin, testPassword))
	require.NoError(t, err)

	// The client only offers certificates from an acceptable CA, so the
	// handshake completes without one and the login is refused.
	resp, err := p.client(deviceIdentity(t, other, "device01")).Post(p.srv.URL+TokenPath, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	body, err := api.ReadBody(resp)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "client certificate required")
}

func TestHealthEndpoints(t *testing.T) {
	p := newProvider(t)
	client := p.client()

	get := func(path string) (int, string) {
		resp, err := client.Get(p.srv.URL + path)
		require.NoError(t, err)
		body, err := api.ReadBody(resp)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"alive"}`, body)

	status, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, status)

	_, body = get("/drain")
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = get("/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	status, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	_, body = get("/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, body)
	_, body = get("/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, body)
}

func TestMaskDestination(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"john@example.com", "j***@example.com"},
		{"+5511900000000", "**********0000"},
		{"123", "***"},
		{"@example.com", "********.com"},
		{"élodie@example.com", "é***@example.com"},
		{"ñandú", "*andú"},
	}
	for _, tt := range tests {
		masked := MaskDestination(tt.in)
		assert.Equal(t, tt.expected, masked, tt.in)
		assert.True(t, utf8.ValidString(masked), tt.in)
	}
}

func TestSealer(t *testing.T) {
	s1, err := newSealer()
	require.NoError(t, err)
	s2, err := newSealer()
	require.NoError(t, err)

	now := time.Now()
	sealed, err := s1.seal(pendingCode{Code: "123456", DeviceID: "d", Expires: now.Add(time.Minute).Unix()})
	require.NoError(t, err)

	opened, err := s1.open(sealed, now)
	require.NoError(t, err)
	assert.Equal(t, "123456", opened.Code)

	_, err = s2.open(sealed, now)
	assert.ErrorIs(t, err, errChallengeInvalid)

	_, err = s1.open("!!", now)
	assert.ErrorIs(t, err, errChallengeInvalid)

	_, err = s1.open(sealed, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, errChallengeExpired)
}

func TestHandlerTLSConfig(t *testing.T) {
	p := newProvider(t)
	cfg, err := p.handler.TLSConfig("localhost", "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))
	assert.NoError(t, leaf.VerifyHostname("localhost"))
}
