// Package cmd contains the CLI wiring for the gosmtpd application.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kposflag "github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/cobra"

	"gosmtpd/examples"
	"gosmtpd/handler"
	"gosmtpd/logging"
	"gosmtpd/session"
	"gosmtpd/smtpd"
)

// Default listen/behaviour values, mirrored in RegisterFlags below.
const (
	DefaultPort        = 2525
	DefaultTLSPort     = 25465
	DefaultTLSHostname = "gosmtpd.test"
)

// Config is the flat, koanf-unmarshalled view of the CLI/file/env
// configuration surface. rootCmd's RunE translates it into the
// session.Config and smtpd.Config the Acceptor actually wants.
type Config struct {
	Port        int    `koanf:"port"`
	TLSPort     int    `koanf:"tls-port"`
	Hostname    string `koanf:"hostname"`
	MailboxDir  string `koanf:"mailbox"`
	TLSCertFile string `koanf:"tls-cert-file"`
	TLSKeyFile  string `koanf:"tls-key-file"`
	TLSHostname string `koanf:"tls-hostname"`
	MaxSizeMB   int    `koanf:"max-size-mb"`
	Workers     int    `koanf:"workers"`
	LogLevel    string `koanf:"log-level"`
	LogFormat   string `koanf:"log-format"`
}

var rootCmd = &cobra.Command{
	Use:   "gosmtpd",
	Short: "gosmtpd SMTP server",
	Long:  "gosmtpd is a configurable SMTP server implementing RFC 5321 command handling, AUTH, STARTTLS, SPF and DMARC evaluation.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		mailboxHandler, err := examples.NewMaildirHandler(cfg.MailboxDir)
		if err != nil {
			return fmt.Errorf("failed to set up mailbox: %w", err)
		}

		reg := handler.Registry[struct{}]{
			OnEmail: examples.MaildirOnEmail[struct{}](mailboxHandler),
		}

		sessionCfg := session.Config{
			Hostname: cfg.Hostname,
			MaxSize:  int64(cfg.MaxSizeMB) * 1024 * 1024,
		}
		if cfg.TLSHostname == "" {
			cfg.TLSHostname = cfg.Hostname
		}
		sessionCfg.TLSConfig = smtpd.NewTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSHostname)

		acceptorCfg := smtpd.Config{
			Addr:          fmt.Sprintf(":%d", cfg.Port),
			Workers:       cfg.Workers,
			SessionConfig: sessionCfg,
		}
		if cfg.TLSPort > 0 {
			acceptorCfg.ImplicitTLS = fmt.Sprintf(":%d", cfg.TLSPort)
		}

		a := smtpd.New(acceptorCfg, reg, func() *struct{} { return &struct{}{} }, loggingConfig(cfg))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return a.Run(ctx)
	},
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(kposflag.Provider(cmd.PersistentFlags(), ".", k), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	cfgPath, err := cmd.PersistentFlags().GetString("config")
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config flag: %w", err)
	}
	if cfgPath != "" {
		if err := k.Load(kfile.Provider(cfgPath), kyaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", cfgPath, err)
		}
	} else {
		for _, fn := range []string{"gosmtpd.yaml", "gosmtpd.yml"} {
			if _, statErr := os.Stat(fn); statErr == nil {
				if err := k.Load(kfile.Provider(fn), kyaml.Parser()); err != nil {
					return Config{}, fmt.Errorf("failed to load config file %s: %w", fn, err)
				}
				break
			}
		}
	}

	if err := k.Load(kenv.Provider("GOSMTPD_", "_", createEnvReplacer().Replace), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func createEnvReplacer() *strings.Replacer {
	return strings.NewReplacer("-", "_", ".", "_")
}

// RegisterFlags registers persistent flags for the root command. This
// replaces an init() function to satisfy the linter rule against init
// usage and lets callers control ordering.
func RegisterFlags() {
	pf := rootCmd.PersistentFlags()
	pf.IntP("port", "p", DefaultPort, "Port to listen on")
	pf.StringP("mailbox", "m", "./mailbox", "Directory to store delivered messages")
	pf.StringP("config", "c", "", "Configuration file path")
	pf.String("hostname", "gosmtpd.local", "Hostname advertised in the greeting and EHLO banner")
	pf.Int("max-size-mb", 10, "Maximum accepted message size, in MiB")
	pf.Int("workers", smtpd.DefaultWorkers, "Worker-thread pool size bounding concurrent sessions")
	pf.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	pf.String("log-format", "json", "Log format: json or text")

	pf.String("tls-cert-file", "", "Path to TLS certificate file")
	pf.String("tls-key-file", "", "Path to TLS private key file")
	pf.Int("tls-port", DefaultTLSPort, "Port for implicit TLS (SMTPS); 0 disables it")
	pf.String("tls-hostname", DefaultTLSHostname, "Hostname for the generated self-signed certificate fallback")
}

func loggingConfig(cfg Config) logging.LogConfig {
	lc := logging.DefaultConfig()
	if cfg.LogLevel != "" {
		lc.Level = logging.ParseLogLevel(cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		lc.Format = cfg.LogFormat
	}
	return lc
}

// Execute sets the version and runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}
