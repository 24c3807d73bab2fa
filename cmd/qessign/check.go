package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/qessign/internal/app"
	"github.com/vocdoni/gofirma/qessign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/qessign/internal/crypto/clientcert"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and load the client identity",
		Long: `Validate the configuration and load the client identity.

Nothing is sent to the provider. The command fails when a setting is
missing or invalid, the document cannot be read, or the client
certificate cannot be loaded or is outside its validity period.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cfg.Server.Document != "" {
		st, err := os.Stat(cfg.Server.Document)
		if err != nil {
			return fmt.Errorf("document: %w", err)
		}
		fmt.Fprintf(out, "Document:     %s (%d bytes)\n", cfg.Server.Document, st.Size())
	}

	id, err := app.LoadIdentity(cfg.Identity)
	if err != nil {
		return err
	}
	info := certs.Describe(id.Certificate)
	fmt.Fprintf(out, "Identity:     %s\n", id.Source)
	fmt.Fprintf(out, "Subject:      %s\n", id.Certificate.Subject.String())
	fmt.Fprintf(out, "Issuer:       %s\n", info.Issuer)
	fmt.Fprintf(out, "Fingerprint:  %s\n", clientcert.FingerprintHex(id.Certificate))
	fmt.Fprintf(out, "Valid until:  %s\n", id.Certificate.NotAfter.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Provider:     %s (credential %s)\n", cfg.Provider.Endpoints.AuthMTLSURL, cfg.Provider.CredentialID)
	fmt.Fprintf(out, "Callback URL: %s\n", cfg.CallbackURL())
	fmt.Fprintf(out, "Sessions:     %s\n", cfg.Session.Backend)
	return nil
}
