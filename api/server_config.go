package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the simulated provider that cmd/fakeprovider
// serves. TLS material is not part of it; the provider's certificate
// authority builds that at startup.
type HTTPServerConfig struct {
	// ListenAddr is where the mobile API is served, e.g. "127.0.0.1:8443".
	ListenAddr string

	// EnablePprof enables the pprof debugging API when true.
	EnablePprof bool

	// Log receives the request log of every route.
	Log *slog.Logger

	// DrainDuration is how long /readyz reports not ready before shutdown.
	DrainDuration time.Duration

	// GracefulShutdownDuration is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	GracefulShutdownDuration time.Duration

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of
	// the response.
	WriteTimeout time.Duration
}
