/*
Package httpserver implements a simulated provider speaking the mobile API the
client packages consume. It backs end-to-end tests and the fakeprovider binary.

API Endpoints:

  - GET /api/app/discovery - Discovery document, URLs on the requested host
  - POST /api/gen-certificate - Code request, or code exchange when "code" is set
  - POST /api/token - Login over mutual TLS, returns access_token and _links
  - POST /api/revoke-token - Invalidate a bearer token
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Enrollment

The provider keeps no state between the two enrollment phases. The one-time
code, login, device id and a digest of the submitted public key are sealed
with chacha20poly1305 under a per-process key and returned as the
encrypted-code challenge field. The exchange must echo it together with the
same payload and the code that was delivered to the account's CodeSink.

Issued certificates are signed by a cryptoutils.Authority and carry the
device id as common name. The same authority is trusted for client
authentication on the token endpoint.

Example usage:

	authority, _ := cryptoutils.NewAuthority("simulated provider CA")
	handler, err := httpserver.NewHandler(authority, []httpserver.Account{
		{Login: "12345678900", Password: "hunter2", Destination: "john@example.com"},
	}, httpserver.LogSink{Log: logger}, logger)
	tlsConfig, err := handler.TLSConfig("localhost", "127.0.0.1")

	server, err := httpserver.New(&api.HTTPServerConfig{
		ListenAddr:               ":8443",
		Log:                      logger,
		GracefulShutdownDuration: 30 * time.Second,
	}, handler, tlsConfig)
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
