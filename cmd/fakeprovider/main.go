package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/programandonocosmos/cashtools-api/cmd/flags"
	"github.com/programandonocosmos/cashtools-api/cryptoutils"
	"github.com/programandonocosmos/cashtools-api/httpserver"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8443",
	Usage: "address to listen on for the mobile API",
}
var flagAccount = &cli.StringSliceFlag{
	Name:     "account",
	EnvVars:  []string{"FAKEPROVIDER_ACCOUNTS"},
	Required: true,
	Usage:    "account as login:password[:destination], repeatable",
}
var flagCAOut = &cli.StringFlag{
	Name:  "ca-out",
	Value: "provider-ca.pem",
	Usage: "where to write the CA certificate clients must trust",
}
var flagHost = &cli.StringSliceFlag{
	Name:  "host",
	Value: cli.NewStringSlice("localhost", "127.0.0.1"),
	Usage: "names and addresses the server certificate is valid for",
}

func main() {
	if err := flags.LoadDotEnv(os.Getenv("FAKEPROVIDER_ENV_FILE")); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "fakeprovider",
		Usage: "Serve a simulated provider for local enrollment and login",
		Flags: append(append([]cli.Flag{
			flags.LogServiceFlagFn("fakeprovider"),
			flagListenAddr,
			flagAccount,
			flagCAOut,
			flagHost,
		}, flags.CommonFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			shutdownTracing, err := flags.SetupTracing(cCtx, logger)
			if err != nil {
				return err
			}
			defer shutdownTracing()

			accounts, err := parseAccounts(cCtx.StringSlice(flagAccount.Name))
			if err != nil {
				return err
			}

			authority, err := cryptoutils.NewAuthority("fakeprovider CA")
			if err != nil {
				return err
			}
			if err := os.WriteFile(cCtx.String(flagCAOut.Name), authority.CACert(), 0o644); err != nil {
				return fmt.Errorf("could not write CA certificate: %w", err)
			}
			logger.Info("CA certificate written", "path", cCtx.String(flagCAOut.Name))

			handler, err := httpserver.NewHandler(authority, accounts, httpserver.LogSink{Log: logger}, logger)
			if err != nil {
				return err
			}

			tlsConfig, err := handler.TLSConfig(cCtx.StringSlice(flagHost.Name)...)
			if err != nil {
				return err
			}

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
			server, err := httpserver.New(cfg, handler, tlsConfig)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop",
				"discoveryURL", "https://"+cCtx.String(flagListenAddr.Name)+httpserver.DiscoveryPath)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func parseAccounts(values []string) ([]httpserver.Account, error) {
	accounts := make([]httpserver.Account, 0, len(values))
	for _, value := range values {
		parts := strings.SplitN(value, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid account %q, expected login:password[:destination]", value)
		}
		account := httpserver.Account{Login: parts[0], Password: parts[1]}
		if len(parts) == 3 {
			account.Destination = parts[2]
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}
