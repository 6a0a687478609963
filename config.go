package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind              string
	clientTimeout     time.Duration
	heartbeatInterval time.Duration
	port              int
	prefix            string
	profile           bool
	tlsCert           string
	tlsKey            string
	updateInterval    time.Duration
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.updateInterval <= 0 {
		return fmt.Errorf("invalid update interval (must be positive): %s", c.updateInterval)
	}
	if c.heartbeatInterval <= 0 {
		return fmt.Errorf("invalid heartbeat interval (must be positive): %s", c.heartbeatInterval)
	}
	if c.clientTimeout <= c.heartbeatInterval {
		return fmt.Errorf("client timeout (%s) must exceed heartbeat interval (%s)", c.clientTimeout, c.heartbeatInterval)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TAGBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tagbox",
		Short:         "Authoritative server for a location-based multiplayer game of tag.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TAGBOX_BIND)")
	fs.DurationVar(&cfg.clientTimeout, "client-timeout", 10*time.Second, "time without inbound traffic before a client is disconnected (env: TAGBOX_CLIENT_TIMEOUT)")
	fs.DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", 5*time.Second, "interval between pings sent to each client (env: TAGBOX_HEARTBEAT_INTERVAL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TAGBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TAGBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TAGBOX_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TAGBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TAGBOX_TLS_KEY)")
	fs.DurationVar(&cfg.updateInterval, "update-interval", time.Second, "interval between score updates for running games (env: TAGBOX_UPDATE_INTERVAL)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TAGBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TAGBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tagbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
