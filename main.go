package main

import (
	"fmt"
	"os"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/crypto"
	"github.com/gluk-w/claworc/shellbridge/internal/logging"
	"github.com/spf13/cobra"
)

const (
	appName    = "shellbridge"
	appVersion = "0.3.0"
)

var profilesPath string

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Run commands on remote shells over SSH",
	Long: `Shellbridge drives interactive shells on remote hosts over SSH:
  - exec runs one command on a profile and prints its output
  - run fans a command out to several profiles at once
  - serve exposes the session pool, scheduled jobs and audit log over HTTP`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return err
		}
		if cmd != serveCmd {
			logging.Console = os.Stderr
		}
		logging.Init()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profilesPath, "profiles", "p", "",
		"Profiles file (default $"+config.EnvPrefix+"_PROFILES or shellbridge.yaml)")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(auditCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadProfiles reads the profiles file named by --profiles or the config,
// decrypting "fernet:" values.
func loadProfiles() (*config.ProfileFile, error) {
	path := profilesPath
	if path == "" {
		path = config.Cfg.ProfilesPath
	}
	return config.LoadProfiles(path, crypto.Decrypt)
}
