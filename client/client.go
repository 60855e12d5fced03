// Package client is the entry point for device enrollment and session
// authentication.
//
// A Client is an immutable value. Each successful operation returns a new
// Client in the next state; the receiver is never modified, so a Client may
// be shared between goroutines freely. A failed operation returns the
// receiver unchanged alongside the error.
//
//	c := client.New(cfg)
//	c, err := c.RequestCodeToGenCert(ctx, login, password)
//	sentTo, _ := c.SentTo()
//	fmt.Println("code sent to", sentTo)
//	c, path, err := c.GenCertificate(ctx, dir, code)
//	c, err = c.Authenticate(ctx, path, login, password)
//	session := c.Session()
package client

import (
	"context"

	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/discovery"
	"github.com/programandonocosmos/cashtools-api/enrollment"
	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/programandonocosmos/cashtools-api/session"
)

// Enroller runs the two enrollment phases.
type Enroller interface {
	RequestCode(ctx context.Context, login, secret string) (*enrollment.PendingEnrollment, error)
	ExchangeCode(ctx context.Context, pending *enrollment.PendingEnrollment, code, outputDir string) (string, error)
}

// SessionAuthenticator logs in with an identity archive.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, identityPath, login, secret string) (*interfaces.AuthSession, error)
	AuthenticateIdentity(ctx context.Context, archive []byte, login, secret string) (*interfaces.AuthSession, error)
}

type Client struct {
	enroller Enroller
	auth     SessionAuthenticator
	state    State
}

// New returns an unauthenticated client talking to the provider described by cfg.
func New(cfg *api.ClientConfig) *Client {
	resolver := discovery.NewResolver(cfg)
	return NewWith(enrollment.NewClient(cfg, resolver), session.NewAuthenticator(cfg, resolver))
}

// NewWith returns an unauthenticated client using the given collaborators.
func NewWith(enroller Enroller, auth SessionAuthenticator) *Client {
	return &Client{
		enroller: enroller,
		auth:     auth,
		state:    Unauthenticated{},
	}
}

func (c *Client) next(e Event) *Client {
	return &Client{
		enroller: c.enroller,
		auth:     c.auth,
		state:    Transition(c.state, e),
	}
}

// Authenticate logs in with the identity archive at certPath.
func (c *Client) Authenticate(ctx context.Context, certPath, login, password string) (*Client, error) {
	s, err := c.auth.Authenticate(ctx, certPath, login, password)
	if err != nil {
		return c, err
	}
	return c.next(SessionEstablished{Session: s}), nil
}

// AuthenticateWithArchive logs in with an identity archive held in memory.
func (c *Client) AuthenticateWithArchive(ctx context.Context, archive []byte, login, password string) (*Client, error) {
	s, err := c.auth.AuthenticateIdentity(ctx, archive, login, password)
	if err != nil {
		return c, err
	}
	return c.next(SessionEstablished{Session: s}), nil
}

// RequestCodeToGenCert starts an enrollment. A previous pending challenge is discarded.
func (c *Client) RequestCodeToGenCert(ctx context.Context, login, password string) (*Client, error) {
	pending, err := c.enroller.RequestCode(ctx, login, password)
	if err != nil {
		return c, err
	}
	return c.next(CodeIssued{Pending: pending}), nil
}

// GenCertificate exchanges the one-time code for a certificate and writes
// the identity archive into certFolder. It returns the archive path.
func (c *Client) GenCertificate(ctx context.Context, certFolder, code string) (*Client, string, error) {
	requested, ok := c.state.(CodeRequested)
	if !ok || requested.Pending == nil {
		return c, "", interfaces.ErrCertificateRequestedBeforeCodeRequest
	}

	path, err := c.enroller.ExchangeCode(ctx, requested.Pending, code, certFolder)
	if err != nil {
		return c, "", err
	}
	return c.next(CertificateIssued{Location: path}), path, nil
}

// State returns the current state.
func (c *Client) State() State {
	return c.state
}

// SentTo returns the masked destination of the pending one-time code.
func (c *Client) SentTo() (string, bool) {
	requested, ok := c.state.(CodeRequested)
	if !ok || requested.Pending == nil {
		return "", false
	}
	return requested.Pending.SentTo(), true
}

// Session returns the established session, or nil.
func (c *Client) Session() *interfaces.AuthSession {
	if authenticated, ok := c.state.(Authenticated); ok {
		return authenticated.Session
	}
	return nil
}
