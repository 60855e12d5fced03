/*
Package api describes the wire protocol of the provider's mobile API and the
HTTP plumbing shared by every client component.

# Wire Types

  - ExchangeRequest / ExchangeResponse - second enrollment phase
  - LoginRequest / AuthResponse - mutual-TLS token request
  - Href - entries of the "_links" map

The enrollment request body itself is interfaces.EnrollmentPayload.

# Fixed Headers

Every request carries:

	Content-Type: application/json
	X-Correlation-Id: and-7-86-2-1000005524.9twu3pgr
	User-Agent: Cashtools Client - cl3t0

The correlation id and user agent can be overridden in ClientConfig.

# HTTP Clients

ClientConfig builds per-call *http.Client values. Transports are wrapped
with otelhttp so outbound calls show up as spans when a tracer provider is
installed. MTLSClient presents a client identity for the login call only;
no client is shared between calls.

# Server Configuration

HTTPServerConfig configures the simulated provider in package httpserver.
*/
package api
