package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/chainmgr/internal/auth"
	"evalgo.org/chainmgr/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage authentication tokens",
	Long:  `Generate authentication tokens for operators and automation`,
}

var generateTokenCmd = &cobra.Command{
	Use:   "generate [subject]",
	Short: "Generate an operator token",
	Long: `Generate a JWT for the API.

The token is signed with security.jwt_secret from the configuration and
carries the given roles. Roles are admin, operator and viewer.

Examples:
  # Read-only token for a dashboard
  chainmgr token generate grafana --roles viewer

  # Operator token valid for 30 days
  chainmgr token generate ci --roles operator --expiration 720h

  # Use custom secret (overrides config)
  chainmgr token generate alice --roles admin --secret "my-custom-secret"`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateToken,
}

var (
	tokenExpiration time.Duration
	tokenSecret     string
	tokenRoles      []string
)

func init() {
	generateTokenCmd.Flags().DurationVar(&tokenExpiration, "expiration", 0, "token lifetime (default: security.jwt_expiration)")
	generateTokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default: from config file)")
	generateTokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{models.RoleViewer}, "comma separated roles")

	tokenCmd.AddCommand(generateTokenCmd)
}

func runGenerateToken(cmd *cobra.Command, args []string) error {
	subject := args[0]

	roles := make([]models.Role, 0, len(tokenRoles))
	for _, r := range tokenRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if !models.ValidRole(r) {
			return fmt.Errorf("unknown role %q (use admin, operator or viewer)", r)
		}
		roles = append(roles, r)
	}

	security := cfg.Security
	if tokenSecret != "" {
		security.JWTSecret = tokenSecret
	}
	if security.JWTSecret == "" {
		return fmt.Errorf(`jwt_secret not found in config file and --secret not provided

Please either:
  1. Add to your config.yaml:
     security:
       jwt_secret: your-secret-here

  2. Or use the --secret flag:
     chainmgr token generate %s --secret "your-secret-here"`, subject)
	}

	token, err := auth.NewJWTService(security).GenerateToken(subject, roles, tokenExpiration)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	expiration := tokenExpiration
	if expiration <= 0 {
		expiration = security.JWTExpiration
	}

	fmt.Printf("Token Generated Successfully\n")
	fmt.Printf("============================\n\n")
	fmt.Printf("Subject:    %s\n", subject)
	fmt.Printf("Roles:      %s\n", strings.Join(roles, ","))
	fmt.Printf("Expiration: %s\n", expiration)
	fmt.Printf("\nToken:\n%s\n\n", token)
	fmt.Printf("Use it with the CLI:\n")
	fmt.Printf("  export CHAINMGR_TOKEN=%s\n", token)

	return nil
}
