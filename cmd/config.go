package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration loaded from the config file, with MEZQUIT_ env overrides applied (command-line flags are not included)",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := yaml.Marshal(viper.AllSettings())
		if err != nil {
			fmt.Println("error marshaling config:", err)
			return
		}
		fmt.Print(string(out))
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
}
