package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seymr/contactguard/internal/adapter/inbound/admin"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [token]",
	Short: "Generate an Argon2id hash for the admin API token",
	Long: `Generate an Argon2id PHC hash of an admin token for use in config.

The output can be used directly in the admin.token_hash field. Remote
callers then authenticate with "Authorization: Bearer <token>".

Example:
  contactguard hash-key "my-admin-token"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The token will appear in shell history.
Consider clearing history after use or using an environment variable:
  contactguard hash-key "$ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := admin.HashToken(args[0])
		if err != nil {
			return fmt.Errorf("hash token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
