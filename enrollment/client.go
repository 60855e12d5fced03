// Package enrollment obtains a device client certificate in two phases: a
// code request that makes the provider send a one-time code to the account
// owner, and an exchange of that code for a signed certificate.
package enrollment

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/challenge"
	"github.com/programandonocosmos/cashtools-api/common"
	"github.com/programandonocosmos/cashtools-api/cryptoutils"
	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/programandonocosmos/cashtools-api/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PendingEnrollment is the state retained between the two phases.
// It is immutable and lives only as long as the process.
type PendingEnrollment struct {
	url       string
	payload   interfaces.EnrollmentPayload
	challenge interfaces.ChallengeState
	key       *rsa.PrivateKey
}

// URL is the enrollment endpoint both phases post to.
func (p *PendingEnrollment) URL() string { return p.url }

// Payload is the first-phase request body, reused for the exchange.
func (p *PendingEnrollment) Payload() interfaces.EnrollmentPayload { return p.payload }

// Challenge is the state extracted from the challenge header.
func (p *PendingEnrollment) Challenge() interfaces.ChallengeState { return p.challenge }

// SentTo is the masked destination of the one-time code.
func (p *PendingEnrollment) SentTo() string { return p.challenge.SentTo }

// DeviceID is the random identifier of this enrollment attempt.
func (p *PendingEnrollment) DeviceID() string { return p.payload.DeviceID }

// Client runs the enrollment protocol.
type Client struct {
	cfg      *api.ClientConfig
	resolver interfaces.ServiceResolver
	log      *slog.Logger
	tracer   trace.Tracer
}

func NewClient(cfg *api.ClientConfig, resolver interfaces.ServiceResolver) *Client {
	return &Client{
		cfg:      cfg,
		resolver: resolver,
		log:      cfg.Logger(),
		tracer:   otel.Tracer(common.PackageName + "/enrollment"),
	}
}

// RequestCode starts an enrollment for the account identified by login and
// secret. On success the provider has sent a one-time code to the
// destination reported by PendingEnrollment.SentTo.
func (c *Client) RequestCode(ctx context.Context, login, secret string) (_ *PendingEnrollment, err error) {
	ctx, span := c.tracer.Start(ctx, "enrollment.RequestCode")
	defer func() { common.EndSpan(span, err) }()

	url, err := c.resolver.Resolve(ctx, api.GenCertificateService)
	if err != nil {
		return nil, err
	}

	key, err := cryptoutils.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	cryptoKey, err := cryptoutils.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	publicKey, err := cryptoutils.ExportPublicPEM(key)
	if err != nil {
		return nil, err
	}
	publicKeyCrypto, err := cryptoutils.ExportPublicPEM(cryptoKey)
	if err != nil {
		return nil, err
	}

	deviceID, err := NewDeviceID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyGenerationFailed, err)
	}

	payload := interfaces.EnrollmentPayload{
		Login:           login,
		Password:        secret,
		PublicKey:       string(publicKey),
		PublicKeyCrypto: string(publicKeyCrypto),
		Model:           DeviceModel(c.cfg.DeviceModel, deviceID),
		DeviceID:        deviceID,
	}
	span.SetAttributes(attribute.String("device_id", deviceID))

	req, err := c.cfg.NewJSONRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEnrollmentRequestFailed, err)
	}

	resp, err := c.cfg.HTTPClient().Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "Enrollment request failed", "url", url, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEnrollmentRequestFailed, err)
	}

	body, err := api.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response: %v", interfaces.ErrEnrollmentRequestFailed, err)
	}

	// The provider answers with 401 and the challenge, so the status is not checked.
	header := resp.Header.Get(api.ChallengeHeader)
	if header == "" {
		c.log.WarnContext(ctx, "Enrollment response has no challenge", "status", resp.StatusCode)
		return nil, &interfaces.ResponseError{
			Err:        interfaces.ErrChallengeHeaderAbsent,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	state, err := challenge.Extract(header)
	if err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "Enrollment code requested",
		"device_id", deviceID,
		"sent_to", state.SentTo)

	return &PendingEnrollment{
		url:       url,
		payload:   payload,
		challenge: state,
		key:       key.Private,
	}, nil
}

// ExchangeCode trades the one-time code for a certificate and writes the
// identity archive to <outputDir>/cert.p12, returning its path. outputDir
// is only created once the provider has issued the certificate.
func (c *Client) ExchangeCode(ctx context.Context, pending *PendingEnrollment, code, outputDir string) (string, error) {
	return c.exchange(ctx, pending, code, func() (interfaces.ArchiveStore, error) {
		return storage.NewFileBackend(outputDir, c.log)
	})
}

// ExchangeCodeTo is ExchangeCode persisting the archive through store.
// It returns the location reported by the store.
func (c *Client) ExchangeCodeTo(ctx context.Context, pending *PendingEnrollment, code string, store interfaces.ArchiveStore) (string, error) {
	return c.exchange(ctx, pending, code, func() (interfaces.ArchiveStore, error) {
		return store, nil
	})
}

func (c *Client) exchange(ctx context.Context, pending *PendingEnrollment, code string, openStore func() (interfaces.ArchiveStore, error)) (_ string, err error) {
	if pending == nil {
		return "", interfaces.ErrExchangeBeforeRequest
	}

	ctx, span := c.tracer.Start(ctx, "enrollment.ExchangeCode",
		trace.WithAttributes(attribute.String("device_id", pending.DeviceID())))
	defer func() { common.EndSpan(span, err) }()

	archive, err := c.issueArchive(ctx, pending, code)
	if err != nil {
		return "", err
	}

	store, err := openStore()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrArchivePersistFailed, err)
	}

	location, err := store.Store(ctx, interfaces.ArchiveFileName, archive)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to persist identity archive", "store", store.Name(), "err", err)
		return "", fmt.Errorf("%w: %v", interfaces.ErrArchivePersistFailed, err)
	}

	c.log.InfoContext(ctx, "Identity archive stored",
		"device_id", pending.DeviceID(),
		"location", location)

	return location, nil
}

func (c *Client) issueArchive(ctx context.Context, pending *PendingEnrollment, code string) ([]byte, error) {
	exchange := api.ExchangeRequest{
		EnrollmentPayload: pending.payload,
		Code:              code,
		EncryptedCode:     pending.challenge.EncryptedCode,
	}

	req, err := c.cfg.NewJSONRequest(ctx, http.MethodPost, pending.url, exchange)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrExchangeRequestFailed, err)
	}

	resp, err := c.cfg.HTTPClient().Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "Certificate exchange failed", "url", pending.url, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrExchangeRequestFailed, err)
	}

	body, err := api.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response: %v", interfaces.ErrExchangeRequestFailed, err)
	}

	var issued api.ExchangeResponse
	if err := json.Unmarshal(body, &issued); err != nil || issued.Certificate == "" {
		c.log.WarnContext(ctx, "Certificate exchange response has no certificate", "status", resp.StatusCode)
		return nil, &interfaces.ResponseError{
			Err:        interfaces.ErrCertificateResponseMalformed,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return cryptoutils.BundleIdentity([]byte(issued.Certificate), pending.key)
}
