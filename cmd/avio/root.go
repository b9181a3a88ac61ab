package main

import (
	"github.com/opd-ai/avio/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigFile string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "avio",
		Short: "Capture, encode, decode and present simulated media",
		Long: `avio runs a simulated camera or screen through the effect chain, the yuvd
encoder, an in-memory RTP link, the decoder and the presentation queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "Config file (default searches ./config.yaml, $HOME/.avio, /etc/avio)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newDevicesCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// load reads the configuration and applies the logging settings.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, errors.Wrap(err, "failed to configure logging")
	}
	return cfg, nil
}
