package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/programandonocosmos/cashtools-api/client"
	"github.com/programandonocosmos/cashtools-api/cmd/flags"
	"github.com/programandonocosmos/cashtools-api/discovery"
	"github.com/programandonocosmos/cashtools-api/enrollment"
	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/programandonocosmos/cashtools-api/session"
	"github.com/programandonocosmos/cashtools-api/storage"
	"github.com/urfave/cli/v2"
)

var flagOutDir *cli.StringFlag = &cli.StringFlag{
	Name:  "out",
	Value: ".",
	Usage: "directory the identity archive is written to, ignored with --archive-store",
}

var flagCert *cli.StringFlag = &cli.StringFlag{
	Name:  "cert",
	Value: interfaces.ArchiveFileName,
	Usage: "path to the identity archive, ignored with --archive-store",
}

var flagShowToken *cli.BoolFlag = &cli.BoolFlag{
	Name:  "show-token",
	Value: false,
	Usage: "print the access token instead of redacting it",
}

func main() {
	if err := flags.LoadDotEnv(os.Getenv("CASHTOOLS_ENV_FILE")); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:   "cashtools",
		Usage:  "Enroll a device and authenticate against the mobile API",
		Flags:  append(append([]cli.Flag{flags.LogServiceFlagFn("cashtools")}, flags.CommonFlags...), flags.ClientFlags...),
		Before: setupTracing,
		After:  flushTracing,
		Commands: []*cli.Command{
			{
				Name:      "discover",
				Usage:     "Print the discovery document, or the URL of one service",
				ArgsUsage: "[service-name]",
				Action:    discover,
			},
			{
				Name:  "enroll",
				Usage: "Request a one-time code and exchange it for a device certificate",
				Flags: []cli.Flag{flags.LoginFlag, flags.PasswordFlag, flagOutDir},
				Action: func(cCtx *cli.Context) error {
					return enroll(cCtx, os.Stdin, os.Stdout)
				},
			},
			{
				Name:   "authenticate",
				Usage:  "Log in with the device certificate and print the session",
				Flags:  []cli.Flag{flags.LoginFlag, flags.PasswordFlag, flagCert, flagShowToken},
				Action: authenticate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var shutdownTracing = func() {}

func setupTracing(cCtx *cli.Context) error {
	shutdown, err := flags.SetupTracing(cCtx, flags.SetupLogger(cCtx))
	shutdownTracing = shutdown
	return err
}

func flushTracing(*cli.Context) error {
	shutdownTracing()
	return nil
}

func setup(cCtx *cli.Context) (*slog.Logger, *flags.Settings, interfaces.ArchiveStore, error) {
	logger := flags.SetupLogger(cCtx)

	settings, err := flags.ConfigureClient(cCtx, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	if settings.ArchiveStore == "" {
		return logger, settings, nil, nil
	}

	store, err := storage.NewStorageBackendFactory(logger).StorageBackendFor(settings.ArchiveStore)
	if err != nil {
		return nil, nil, nil, err
	}
	return logger, settings, store, nil
}

func discover(cCtx *cli.Context) error {
	_, settings, _, err := setup(cCtx)
	if err != nil {
		return err
	}
	resolver := discovery.NewResolver(settings.Client)

	if name := cCtx.Args().First(); name != "" {
		url, err := resolver.Resolve(cCtx.Context, name)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	}

	doc, err := resolver.Fetch(cCtx.Context)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func enroll(cCtx *cli.Context, in io.Reader, out io.Writer) error {
	logger, settings, store, err := setup(cCtx)
	if err != nil {
		return err
	}

	login := cCtx.String(flags.LoginFlag.Name)
	password := cCtx.String(flags.PasswordFlag.Name)

	resolver := discovery.NewResolver(settings.Client)
	enroller := enrollment.NewClient(settings.Client, resolver)
	c := client.NewWith(enroller, session.NewAuthenticator(settings.Client, resolver))

	c, err = c.RequestCodeToGenCert(cCtx.Context, login, password)
	if err != nil {
		return err
	}

	sentTo, _ := c.SentTo()
	fmt.Fprintf(out, "A one-time code was sent to %s\nCode: ", sentTo)

	code, err := readCode(in)
	if err != nil {
		return err
	}

	var location string
	if store != nil {
		pending := c.State().(client.CodeRequested).Pending
		location, err = enroller.ExchangeCodeTo(cCtx.Context, pending, code, store)
	} else {
		_, location, err = c.GenCertificate(cCtx.Context, cCtx.String(flagOutDir.Name), code)
	}
	if err != nil {
		return err
	}

	logger.Info("Device enrolled", "location", location)
	fmt.Fprintln(out, location)
	return nil
}

func readCode(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("could not read one-time code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", errors.New("no one-time code entered")
	}
	return code, nil
}

func authenticate(cCtx *cli.Context) error {
	_, settings, store, err := setup(cCtx)
	if err != nil {
		return err
	}

	login := cCtx.String(flags.LoginFlag.Name)
	password := cCtx.String(flags.PasswordFlag.Name)

	auth := session.NewAuthenticator(settings.Client, discovery.NewResolver(settings.Client))

	var s *interfaces.AuthSession
	if store != nil {
		s, err = auth.AuthenticateFrom(cCtx.Context, store, login, password)
	} else {
		s, err = auth.Authenticate(cCtx.Context, cCtx.String(flagCert.Name), login, password)
	}
	if err != nil {
		return err
	}

	printed := *s
	if !cCtx.Bool(flagShowToken.Name) {
		printed = s.Redacted()
	}
	encoded, err := printed.MarshalIndent()
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
