// Command qessign serves a document for qualified electronic signature
// through a remote signing provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/qessign/internal/config"
	"github.com/vocdoni/gofirma/qessign/internal/version"
)

// Global flags
var (
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qessign",
		Short: "Remote qualified electronic signatures for documents",
		Long: `qessign shows a document in the browser, sends the signer to the
signing provider for consent and stores the signed result together with
the certificate revocation data returned by the provider.

Configuration is read from --config (YAML) and QESSIGN_* environment
variables, which take precedence.

Examples:
  # Run the service
  qessign serve --config qessign.yaml

  # Check configuration and client identity
  qessign check --config qessign.yaml

  # Print the digest a provider would sign
  qessign digest contract.pdf --algorithm sha256`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (or set QESSIGN_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override the log format (json, console)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newDigestCmd())
	root.AddCommand(newIdentitiesCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("QESSIGN_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "qessign", version.String())
		},
	}
}
