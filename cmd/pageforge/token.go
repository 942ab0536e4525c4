package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/pageforge/internal/app"
	"github.com/foxzi/pageforge/internal/auth"
)

var (
	tokenName  string
	tokenEmail string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token management commands",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API token",
	RunE:  runTokenCreate,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API tokens",
	RunE:  runTokenList,
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token_id>",
	Short: "Revoke an API token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenRevoke,
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenName, "name", "", "Token name")
	tokenCreateCmd.Flags().StringVar(&tokenEmail, "email", "", "Author email recorded on writes (required)")
	tokenCreateCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "Allow layout writes")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (0 = no expiry)")
	tokenCreateCmd.MarkFlagRequired("email")

	tokenCmd.AddCommand(tokenCreateCmd, tokenListCmd, tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}

func openTokenStore() (*app.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStores(cfg.Store)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	stores, err := openTokenStore()
	if err != nil {
		return err
	}
	defer stores.Close()

	res, err := auth.IssueToken(context.Background(), stores.Tokens, auth.IssueOptions{
		Name:    tokenName,
		Email:   tokenEmail,
		IsAdmin: tokenAdmin,
		TTL:     tokenTTL,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Token created: %s\n", res.Token.ID)
	fmt.Printf("  Email: %s\n", res.Token.Email)
	fmt.Printf("  Admin: %v\n", res.Token.IsAdmin)
	if res.Token.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", res.Token.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("\n%s\n\nStore it now; it cannot be shown again.\n", res.Value)
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	stores, err := openTokenStore()
	if err != nil {
		return err
	}
	defer stores.Close()

	tokens, err := stores.Tokens.ListTokens(context.Background())
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPREFIX\tADMIN\tSTATUS\tLAST USED")
	for _, t := range tokens {
		status := "active"
		switch {
		case t.Revoked:
			status = "revoked"
		case t.Expired(now):
			status = "expired"
		}
		lastUsed := "-"
		if t.LastUsed != nil {
			lastUsed = t.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n", t.ID, t.Name, t.Email, t.Prefix, t.IsAdmin, status, lastUsed)
	}
	return w.Flush()
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	stores, err := openTokenStore()
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.Tokens.RevokeToken(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Token %s revoked\n", args[0])
	return nil
}
