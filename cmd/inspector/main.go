// Command inspector watches the camera drop folder, grades each lid frame with
// a vision model and drives the PLC pass coil over Modbus TCP.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lid-inspector/internal/config"
)

var cfgFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "inspector",
		Short:        "Lid quality inspection service",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		// No subcommand runs the service, the way the unit is launched on boot.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml when present)")

	root.AddCommand(newServeCommand(), newClassifyCommand())
	return root
}

func loadConfig(logger *logrus.Logger) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}
	return cfg, nil
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}
