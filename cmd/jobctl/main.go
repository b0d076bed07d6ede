// jobctl is a command-line client for the jobs service.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Settings resolve from flags, then
// JOBCTL_* environment variables, then $HOME/.jobctl.yaml.
func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Submit and inspect containerized jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.jobctl.yaml)")
	flags.String("url", "http://localhost:8080", "jobs service base URL")
	flags.String("api-key", "", "API key sent as a Bearer token")
	flags.Duration("timeout", 30*time.Second, "request timeout")
	flags.Bool("json", false, "print raw JSON instead of tables")

	for _, name := range []string{"url", "api-key", "timeout", "json"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newCreateCmd(v),
		newGetCmd(v),
		newListCmd(v),
		newCancelCmd(v),
		newLogsCmd(v),
		newStatsCmd(v),
		newResultCmd(v),
	)
	return root
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix("JOBCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.AddConfigPath(home)
		v.SetConfigName(".jobctl")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}
