package cmd

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hlindberg/mezquit/internal/logging"
)

// CfgFile is the path to an optional config file, overriding $HOME/.mezquit.yaml.
var CfgFile string

// LogLevel is the logrus level name to run at.
var LogLevel string

// RootCmd is the base command every subcommand attaches to.
var RootCmd = &cobra.Command{
	Use:   "mezquit",
	Short: "A resilient MQTT 3.1.1 client for intermittently-connected devices",
	Long: `mezquit publishes and subscribes over MQTT 3.1.1, riding out dropped
links and broker outages rather than surfacing them as failures.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetLevelFromName(LogLevel)
	},
}

// Execute runs RootCmd, exiting the process on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := RootCmd.PersistentFlags()
	flags.StringVar(&CfgFile, "config", "", "config file (default is $HOME/.mezquit.yaml)")
	flags.StringVarP(&LogLevel, "loglevel", "l", "warn", "log level: debug, info, warn, error")
}

// initConfig wires viper to an explicit --config file or $HOME/.mezquit.yaml,
// letting MEZQUIT_-prefixed environment variables override either one.
func initConfig() {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.Warnf("could not determine home directory: %v", err)
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".mezquit")
	}

	viper.SetEnvPrefix("MEZQUIT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file %s", viper.ConfigFileUsed())
	}
}
