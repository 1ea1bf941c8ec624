package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/ticket-engine/api"
	"github.com/warp/ticket-engine/config"
	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/ticketcode"
)

const appName = "ticketctl"

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Operator tool for the ticket engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version
	cmd.SetVersionTemplate(appName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "path to config file")
	cmd.PersistentFlags().String("secret", "", "codec secret (overrides config)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewVerifyCmd(),
		NewChecksumCmd(),
		NewGenerateCmd(),
		NewTokenCmd(),
	)
	return cmd
}

// NewVerifyCmd checks codes without touching the database.
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <code>...",
		Short: "Check the format and checksum of ticket codes",
		Long: `Check codes offline. A code that passes was minted with the
configured secret; whether it was sold is only known to the server.

Exit status is non-zero when any code fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFor(cmd)
			if err != nil {
				return err
			}
			type result struct {
				Code  string `json:"code"`
				Valid bool   `json:"valid"`
				Error string `json:"error,omitempty"`
			}
			results := make([]result, len(args))
			failed := 0
			for i, raw := range args {
				code := ticketcode.Normalize(raw)
				results[i] = result{Code: code, Valid: true}
				if err := codec.Verify(code); err != nil {
					results[i].Valid = false
					results[i].Error = err.Error()
					failed++
				}
			}

			if asJSON(cmd) {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Valid {
						fmt.Fprintf(cmd.OutOrStdout(), "%s  ok\n", r.Code)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s  FAIL (%s)\n", r.Code, r.Error)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d codes failed", failed, len(args))
			}
			return nil
		},
	}
}

// NewChecksumCmd prints the checksum of a random segment.
func NewChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <segment>",
		Short: "Print the full code for a 12-character segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFor(cmd)
			if err != nil {
				return err
			}
			segment := strings.ToUpper(strings.TrimSpace(args[0]))
			code := ticketcode.Prefix + "-" + segment + "-" + ticketcode.Checksum(segment, secret)
			codec, err := ticketcode.New(secret)
			if err != nil {
				return err
			}
			if err := codec.Verify(code); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}

// NewGenerateCmd mints fresh codes, for printing blank stock.
func NewGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Mint new ticket codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("count")
			if n <= 0 {
				return errors.New("--count must be positive")
			}
			codec, err := codecFor(cmd)
			if err != nil {
				return err
			}
			seen := make(map[string]bool, n)
			codes := make([]string, 0, n)
			for len(codes) < n {
				code, err := codec.Generate(func(c string) bool { return seen[c] })
				if err != nil {
					return err
				}
				seen[code] = true
				codes = append(codes, code)
			}
			if asJSON(cmd) {
				return writeJSON(cmd, codes)
			}
			for _, c := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 1, "number of codes")
	return cmd
}

// NewTokenCmd issues a bearer token for a user.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token",
		Long: `Issue a bearer token signed with auth.jwt_secret.

The server trusts the role claim, so only operators holding the secret
should run this.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			role, _ := cmd.Flags().GetString("role")
			name, _ := cmd.Flags().GetString("name")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}

			user := engine.User{ID: engine.UserID(args[0]), Name: name, Role: engine.Role(strings.ToUpper(role))}
			if !user.Role.Valid() {
				return fmt.Errorf("unknown role %q (want SUPER, ADMIN or VENDEDOR)", role)
			}
			tok, err := api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl).Issue(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("role", string(engine.RoleAgent), "SUPER, ADMIN or VENDEDOR")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadFile(path)
}

func secretFor(cmd *cobra.Command) (string, error) {
	if s, _ := cmd.Flags().GetString("secret"); s != "" {
		return s, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Codec.Secret, nil
}

func codecFor(cmd *cobra.Command) (*ticketcode.Codec, error) {
	secret, err := secretFor(cmd)
	if err != nil {
		return nil, err
	}
	return ticketcode.New(secret)
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
