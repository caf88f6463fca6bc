// Package cli implements the keyserver command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/exposurekeys/keyserver/internal/common/logtrace"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/server"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
)

// DefaultConfigFile is read when --config is not given.
const DefaultConfigFile = "/etc/keyserver/keyserver.toml"

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keyserver [command] [flags]",
	Short: "Diagnosis key server with federation gateway sync",
	Long: `keyserver accepts diagnosis keys from devices, releases them as signed key files
and exchanges them with federation gateways.

Examples:
  # Serve the device API and run scheduled jobs
  keyserver serve --config /etc/keyserver/keyserver.toml

  # Run one federation cycle against a single gateway
  keyserver sync --gateway efgs

  # Show the last day of federation activity
  keyserver synclog --since 24h`,
	PersistentPreRunE: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigFile, "Path to the server configuration file")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSyncLogCmd())
	rootCmd.AddCommand(newEncryptKeyCmd())
}

// Execute runs the root command and exits non-zero on failure. SIGINT and SIGTERM
// cancel the command context.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// needsConfig reports whether cmd reads the server configuration.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationNoConfig] == "true" {
			return false
		}
	}
	return true
}

const annotationNoConfig = "noConfig"

// preRunHandlePersistents loads the configuration and sets up logging.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if !needsConfig(cmd) {
		logtrace.InitLogger("warn", true)
	} else {
		if err := config.LoadConfig(configFile); err != nil {
			return err
		}
		cfg := config.Config()
		logtrace.InitLogger(cfg.Log.Level, cfg.Log.Pretty)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(log.Logger.WithContext(ctx))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version of the key server",
		Annotations: map[string]string{annotationNoConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version":      server.Version,
					"apiVersion":   server.ApiVersion,
					"configFormat": config.Version,
				})
				return
			}
			cmd.Printf("keyserver %s (api %s, config format %s)\n", server.Version, server.ApiVersion, config.Version)
		},
	}
}

// printJSON prints the given value as JSON to stdout
func printJSON(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}
