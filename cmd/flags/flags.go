package flags

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/programandonocosmos/cashtools-api/common"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// SetupTracing installs the OTLP tracer provider when --otel-endpoint is
// set. The returned function flushes pending spans and is always non-nil.
func SetupTracing(cCtx *cli.Context, logger *slog.Logger) (func(), error) {
	tp, err := common.InitTracer(cCtx.Context, &common.TracingOpts{
		Endpoint:     cCtx.String(OtelEndpointFlag.Name),
		Insecure:     cCtx.Bool(OtelInsecureFlag.Name),
		ServiceName:  cCtx.String("log-service"),
		SamplingRate: cCtx.Float64(OtelSampleRateFlag.Name),
	})
	if err != nil {
		return func() {}, err
	}
	if tp == nil {
		return func() {}, nil
	}

	logger.Debug("Tracing enabled", "endpoint", cCtx.String(OtelEndpointFlag.Name))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", "err", err)
		}
	}, nil
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var OtelEndpointFlag = &cli.StringFlag{
	Name:    "otel-endpoint",
	EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
	Usage:   "OTLP/gRPC collector address, tracing is disabled when empty",
}
var OtelInsecureFlag = &cli.BoolFlag{
	Name:  "otel-insecure",
	Value: false,
	Usage: "connect to the collector without TLS",
}
var OtelSampleRateFlag = &cli.Float64Flag{
	Name:  "otel-sample-rate",
	Value: 1,
	Usage: "fraction of traces to sample",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	OtelEndpointFlag,
	OtelInsecureFlag,
	OtelSampleRateFlag,
}

var ServerFlags = []cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
}
