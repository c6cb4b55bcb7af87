package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/auth"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
)

var (
	tokenSubject  string
	tokenDuration time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an operator token signed with the configured secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if strings.TrimSpace(tokenSubject) == "" {
			return fmt.Errorf("--subject is required")
		}

		duration := tokenDuration
		if duration <= 0 {
			duration = config.ParseDuration(cfg.Auth.TokenDuration, 0)
		}
		manager := auth.NewJWTManager(cfg.Auth.JWTSecret, duration)
		token, expiresAt, err := manager.GenerateToken(tokenSubject)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator name recorded in the activity log")
	tokenCmd.Flags().DurationVar(&tokenDuration, "duration", 0, "token lifetime (defaults to auth.token_duration)")
	rootCmd.AddCommand(tokenCmd)
}
