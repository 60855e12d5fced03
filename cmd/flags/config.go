package flags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/programandonocosmos/cashtools-api/api"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is loaded when present unless CASHTOOLS_ENV_FILE names another file.
const DefaultEnvFile = ".env"

var DiscoveryURLFlag = &cli.StringFlag{
	Name:    "discovery-url",
	Value:   api.DefaultDiscoveryURL,
	EnvVars: []string{"CASHTOOLS_DISCOVERY_URL"},
	Usage:   "bootstrap discovery document URL",
}
var UserAgentFlag = &cli.StringFlag{
	Name:    "user-agent",
	Value:   api.DefaultUserAgent,
	EnvVars: []string{"CASHTOOLS_USER_AGENT"},
	Usage:   "User-Agent sent on every request",
}
var CorrelationIDFlag = &cli.StringFlag{
	Name:    "correlation-id",
	Value:   api.DefaultCorrelationID,
	EnvVars: []string{"CASHTOOLS_CORRELATION_ID"},
	Usage:   "X-Correlation-Id sent on every request",
}
var DeviceModelFlag = &cli.StringFlag{
	Name:    "device-model",
	Value:   api.DefaultDeviceModel,
	EnvVars: []string{"CASHTOOLS_DEVICE_MODEL"},
	Usage:   "model prefix reported on enrollment",
}
var RootCAFlag = &cli.StringFlag{
	Name:    "root-ca",
	EnvVars: []string{"CASHTOOLS_ROOT_CA"},
	Usage:   "PEM file with additional trusted server CAs",
}
var TimeoutFlag = &cli.DurationFlag{
	Name:    "timeout",
	EnvVars: []string{"CASHTOOLS_TIMEOUT"},
	Usage:   "per request timeout, zero waits forever",
}
var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"CASHTOOLS_CONFIG"},
	Usage:   "YAML file with client settings, explicit flags take precedence",
}
var ArchiveStoreFlag = &cli.StringFlag{
	Name:    "archive-store",
	EnvVars: []string{"CASHTOOLS_ARCHIVE_STORE"},
	Usage:   "storage URI for the identity archive (file://, s3://, vault://, sqlite://, mysql://)",
}
var LoginFlag = &cli.StringFlag{
	Name:     "login",
	EnvVars:  []string{"CASHTOOLS_LOGIN"},
	Required: true,
	Usage:    "account login (CPF)",
}
var PasswordFlag = &cli.StringFlag{
	Name:     "password",
	EnvVars:  []string{"CASHTOOLS_PASSWORD"},
	Required: true,
	Usage:    "account password",
}

var ClientFlags = []cli.Flag{
	ConfigFileFlag,
	DiscoveryURLFlag,
	UserAgentFlag,
	CorrelationIDFlag,
	DeviceModelFlag,
	RootCAFlag,
	TimeoutFlag,
	ArchiveStoreFlag,
}

// FileConfig is the YAML configuration file. Empty values keep the defaults.
//
//	discovery_url: https://localhost:8443/api/app/discovery
//	root_ca: ./provider-ca.pem
//	timeout: 30s
//	archive_store: file:///home/me/.cashtools
type FileConfig struct {
	DiscoveryURL  string        `yaml:"discovery_url"`
	UserAgent     string        `yaml:"user_agent"`
	CorrelationID string        `yaml:"correlation_id"`
	DeviceModel   string        `yaml:"device_model"`
	RootCA        string        `yaml:"root_ca"`
	Timeout       time.Duration `yaml:"timeout"`
	ArchiveStore  string        `yaml:"archive_store"`
}

// LoadFileConfig reads a YAML config. An empty path yields an empty config.
func LoadFileConfig(path string) (*FileConfig, error) {
	fc := &FileConfig{}
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return fc, nil
}

// Apply copies the non-empty settings onto cfg.
func (fc *FileConfig) Apply(cfg *api.ClientConfig) {
	if fc.DiscoveryURL != "" {
		cfg.DiscoveryURL = fc.DiscoveryURL
	}
	if fc.UserAgent != "" {
		cfg.UserAgent = fc.UserAgent
	}
	if fc.CorrelationID != "" {
		cfg.CorrelationID = fc.CorrelationID
	}
	if fc.DeviceModel != "" {
		cfg.DeviceModel = fc.DeviceModel
	}
	if fc.Timeout != 0 {
		cfg.Timeout = fc.Timeout
	}
}

// LoadDotEnv loads environment variables from path, or from DefaultEnvFile
// when path is empty. A missing default file is not an error. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Settings is the resolved client configuration of a CLI invocation.
type Settings struct {
	Client       *api.ClientConfig
	ArchiveStore string
}

// ConfigureClient builds the client configuration from defaults, then the
// YAML file, then flags and environment variables that were set explicitly.
func ConfigureClient(cCtx *cli.Context, logger *slog.Logger) (*Settings, error) {
	fc, err := LoadFileConfig(cCtx.String(ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}

	cfg := api.DefaultClientConfig()
	cfg.Log = logger
	fc.Apply(cfg)

	if cCtx.IsSet(DiscoveryURLFlag.Name) {
		cfg.DiscoveryURL = cCtx.String(DiscoveryURLFlag.Name)
	}
	if cCtx.IsSet(UserAgentFlag.Name) {
		cfg.UserAgent = cCtx.String(UserAgentFlag.Name)
	}
	if cCtx.IsSet(CorrelationIDFlag.Name) {
		cfg.CorrelationID = cCtx.String(CorrelationIDFlag.Name)
	}
	if cCtx.IsSet(DeviceModelFlag.Name) {
		cfg.DeviceModel = cCtx.String(DeviceModelFlag.Name)
	}
	if cCtx.IsSet(TimeoutFlag.Name) {
		cfg.Timeout = cCtx.Duration(TimeoutFlag.Name)
	}

	rootCA := fc.RootCA
	if cCtx.IsSet(RootCAFlag.Name) {
		rootCA = cCtx.String(RootCAFlag.Name)
	}
	if rootCA != "" {
		pemCerts, err := os.ReadFile(rootCA)
		if err != nil {
			return nil, fmt.Errorf("could not read root CA: %w", err)
		}
		if err := cfg.AppendRootCAs(pemCerts); err != nil {
			return nil, fmt.Errorf("%s: %w", rootCA, err)
		}
	}

	archiveStore := fc.ArchiveStore
	if cCtx.IsSet(ArchiveStoreFlag.Name) {
		archiveStore = cCtx.String(ArchiveStoreFlag.Name)
	}

	return &Settings{Client: cfg, ArchiveStore: archiveStore}, nil
}
