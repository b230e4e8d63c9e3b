package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/config"
)

var tokenOpts struct {
	actor string
	role  string
	ttl   time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with the configured secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s, err := auth.NewSigner(cfg.HTTP.JWTSecret)
		if err != nil {
			return err
		}
		tok, err := s.Issue(tokenOpts.actor, auth.Role(tokenOpts.role), tokenOpts.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenOpts.actor, "actor", "", "actor id carried in the subject")
	f.StringVar(&tokenOpts.role, "role", string(auth.RoleRequester), "requester, provider or support")
	f.DurationVar(&tokenOpts.ttl, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("actor")
	rootCmd.AddCommand(tokenCmd)
}
