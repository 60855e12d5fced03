// Package session establishes an authenticated session with the provider by
// presenting an enrolled device identity over mutual TLS.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/common"
	"github.com/programandonocosmos/cashtools-api/cryptoutils"
	"github.com/programandonocosmos/cashtools-api/interfaces"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Authenticator exchanges a device identity and account credentials for an
// AuthSession.
type Authenticator struct {
	cfg      *api.ClientConfig
	resolver interfaces.ServiceResolver
	log      *slog.Logger
	tracer   trace.Tracer
}

func NewAuthenticator(cfg *api.ClientConfig, resolver interfaces.ServiceResolver) *Authenticator {
	return &Authenticator{
		cfg:      cfg,
		resolver: resolver,
		log:      cfg.Logger(),
		tracer:   otel.Tracer(common.PackageName + "/session"),
	}
}

// Authenticate loads the identity archive at identityPath and logs in.
func (a *Authenticator) Authenticate(ctx context.Context, identityPath, login, secret string) (*interfaces.AuthSession, error) {
	archive, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIdentityUnreadable, err)
	}
	return a.AuthenticateIdentity(ctx, archive, login, secret)
}

// AuthenticateFrom fetches the identity archive from store and logs in.
func (a *Authenticator) AuthenticateFrom(ctx context.Context, store interfaces.ArchiveStore, login, secret string) (*interfaces.AuthSession, error) {
	archive, err := store.Fetch(ctx, interfaces.ArchiveFileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrIdentityUnreadable, store.Name(), err)
	}
	return a.AuthenticateIdentity(ctx, archive, login, secret)
}

// AuthenticateIdentity logs in presenting the identity held in archive.
func (a *Authenticator) AuthenticateIdentity(ctx context.Context, archive []byte, login, secret string) (_ *interfaces.AuthSession, err error) {
	ctx, span := a.tracer.Start(ctx, "session.Authenticate")
	defer func() { common.EndSpan(span, err) }()

	url, err := a.resolver.Resolve(ctx, api.TokenService)
	if err != nil {
		return nil, err
	}

	identity, err := cryptoutils.LoadIdentity(archive)
	if err != nil {
		return nil, err
	}

	req, err := a.cfg.NewJSONRequest(ctx, http.MethodPost, url, api.NewLoginRequest(login, secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthRequestFailed, err)
	}

	client := a.cfg.MTLSClient(identity)
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		a.log.ErrorContext(ctx, "Authentication request failed", "url", url, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAuthRequestFailed, err)
	}

	body, err := api.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response: %v", interfaces.ErrAuthRequestFailed, err)
	}

	session, err := ParseAuthResponse(body)
	if err != nil {
		var respErr *interfaces.ResponseError
		if errors.As(err, &respErr) {
			respErr.StatusCode = resp.StatusCode
		}
		a.log.WarnContext(ctx, "Authentication rejected", "status", resp.StatusCode, "err", err)
		return nil, err
	}

	a.log.InfoContext(ctx, "Session established", "device", identity.Leaf.Subject.CommonName)
	return session, nil
}

// requiredLinks are the links every session needs besides the feed.
var requiredLinks = []struct {
	name string
	set  func(*interfaces.AuthSession, string)
}{
	{api.BillsLink, func(s *interfaces.AuthSession, href string) { s.BillsURL = href }},
	{api.CustomerLink, func(s *interfaces.AuthSession, href string) { s.CustomerURL = href }},
	{api.GhostflameLink, func(s *interfaces.AuthSession, href string) { s.QueryURL = href }},
	{api.RevokeTokenLink, func(s *interfaces.AuthSession, href string) { s.RevokeTokenURL = href }},
}

// ParseAuthResponse decodes the token response and resolves the service
// links. The feed is "events", or "magnitude" when "events" is absent.
func ParseAuthResponse(body []byte) (*interfaces.AuthSession, error) {
	var decoded api.AuthResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &interfaces.ResponseError{
			Err:  fmt.Errorf("%w: %v", interfaces.ErrAuthResponseMalformed, err),
			Body: string(body),
		}
	}

	var missing []string
	if decoded.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if decoded.Links == nil {
		missing = append(missing, "_links")
	}
	if len(missing) > 0 {
		return nil, &interfaces.ResponseError{
			Err:     interfaces.ErrAuthResponseMalformed,
			Body:    string(body),
			Missing: missing,
		}
	}

	session := &interfaces.AuthSession{AccessToken: decoded.AccessToken}

	if feed, ok := firstLink(decoded.Links, api.EventsLink, api.MagnitudeLink); ok {
		session.FeedURL = feed
	} else {
		missing = append(missing, api.EventsLink+"|"+api.MagnitudeLink)
	}

	for _, link := range requiredLinks {
		href, ok := firstLink(decoded.Links, link.name)
		if !ok {
			missing = append(missing, link.name)
			continue
		}
		link.set(session, href)
	}

	if len(missing) > 0 {
		return nil, &interfaces.ResponseError{
			Err:     interfaces.ErrRequiredLinksMissing,
			Body:    string(body),
			Missing: missing,
		}
	}

	return session, nil
}

// firstLink returns the href of the first present, non-empty link among names.
func firstLink(links map[string]api.Href, names ...string) (string, bool) {
	for _, name := range names {
		if link, ok := links[name]; ok && link.Href != "" {
			return link.Href, true
		}
	}
	return "", false
}
