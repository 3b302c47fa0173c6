package main

import (
	"github.com/opd-ai/toxecho/config"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
	passphrase string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "toxecho",
		Short:         "Tox echo bot",
		Long:          `toxecho echoes messages, files, audio and video back to the friends that send them`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "log as JSON")
	pf.StringVar(&flags.passphrase, "passphrase", "", "passphrase protecting the save file")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newSavedataCmd(flags))
	return root
}

// loadOptions reads the config file, if any, and applies flags set on the
// command line over it.
func loadOptions(cmd *cobra.Command, flags *globalFlags) (*config.Options, error) {
	opts := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if cmd.Flags().Changed("log-level") {
		opts.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		opts.LogJSON = flags.logJSON
	}
	if cmd.Flags().Changed("passphrase") {
		opts.Passphrase = flags.passphrase
	}

	if err := opts.ConfigureLogging(); err != nil {
		return nil, err
	}
	return opts, nil
}
