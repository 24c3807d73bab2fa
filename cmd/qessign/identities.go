package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/clientcert"
)

func newIdentitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "List client identities in the OS certificate store",
		Long: `List client identities in the OS certificate store.

Use the fingerprint with identity.type "os" and identity.fingerprint.
Only available on macOS builds with cgo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := clientcert.ListOSIdentities()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tSUBJECT\tEXPIRES")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					clientcert.FingerprintHex(id.Certificate),
					id.Certificate.Subject.String(),
					id.Certificate.NotAfter.UTC().Format(time.DateOnly),
				)
			}
			return w.Flush()
		},
	}
}
