// Package discovery resolves logical service names through the provider's
// bootstrap discovery document.
//
// The document is fetched again on every lookup. It may rotate URLs and the
// protocol is used interactively, a few lookups per process at most.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/interfaces"
)

// Resolver implements interfaces.ServiceResolver over HTTP.
type Resolver struct {
	cfg *api.ClientConfig
	log *slog.Logger
}

func NewResolver(cfg *api.ClientConfig) *Resolver {
	return &Resolver{
		cfg: cfg,
		log: cfg.Logger(),
	}
}

// Resolve fetches the discovery document and returns the URL registered for name.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	doc, err := r.Fetch(ctx)
	if err != nil {
		return "", err
	}

	url, err := doc.Lookup(name)
	if err != nil {
		r.log.WarnContext(ctx, "Service not present in discovery document",
			slog.String("service", name),
			slog.Int("services", len(doc)))
		return "", err
	}

	r.log.Debug("Resolved service", slog.String("service", name), slog.String("url", url))
	return url, nil
}

// Fetch retrieves and decodes the discovery document.
func (r *Resolver) Fetch(ctx context.Context) (interfaces.DiscoveryDocument, error) {
	req, err := r.cfg.NewJSONRequest(ctx, http.MethodGet, r.cfg.DiscoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDiscoveryUnreachable, err)
	}

	resp, err := r.cfg.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not request discovery endpoint: %v", interfaces.ErrDiscoveryUnreachable, err)
	}

	body, err := api.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read discovery response: %v", interfaces.ErrDiscoveryUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &interfaces.ResponseError{
			Err:        interfaces.ErrDiscoveryUnreachable,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return ParseDocument(body)
}

// ParseDocument decodes a flat JSON object of service URLs.
// Any non-string value makes the whole document malformed.
func ParseDocument(body []byte) (interfaces.DiscoveryDocument, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &interfaces.ResponseError{
			Err:  fmt.Errorf("%w: %v", interfaces.ErrDiscoveryMalformed, err),
			Body: string(body),
		}
	}
	if raw == nil {
		return nil, &interfaces.ResponseError{Err: interfaces.ErrDiscoveryMalformed, Body: string(body)}
	}

	doc := make(interfaces.DiscoveryDocument, len(raw))
	for name, value := range raw {
		url, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: value of %q is %T, expected string", interfaces.ErrDiscoveryMalformed, name, value)
		}
		doc[name] = url
	}
	return doc, nil
}
