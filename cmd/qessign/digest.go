package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/qessign/internal/digest"
)

func newDigestCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "digest FILE",
		Short: "Print the document digest submitted to the provider",
		Long: `Print the document digest submitted to the provider, base64 encoded,
with the algorithm OID.

Examples:
  qessign digest contract.pdf
  qessign digest contract.pdf --algorithm sha512`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := digest.Lookup(algorithm)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			d, err := digest.Compute(f, alg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", alg.Name, d.AlgorithmOID, d.Value)
			return nil
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", digest.SHA256.Name, "Digest algorithm (sha256, sha384, sha512)")
	return cmd
}
