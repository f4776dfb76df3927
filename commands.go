package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"visitrack/api/classifier"
	"visitrack/api/store"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <user-agent>",
		Short: "Classify a user-agent string",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, classifier.Classify(strings.Join(args, " ")))
		},
	}
}

func newResolveCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "resolve [ip]",
		Short: "Resolve an IP address (or this host's public address) through the provider chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			enricher, mm, err := buildEnricher(cfg, log)
			if err != nil {
				return err
			}
			if mm != nil {
				defer mm.Close()
			}

			ip := ""
			if len(args) == 1 {
				ip = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := enricher.Resolve(ctx, ip)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

func newCreateAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-admin <email> <password>",
		Short: "Create a user allowed to read the stats API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password := args[0], args[1]
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := connectPostgres(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			user, err := store.NewUserStore(db.DB).CreateUser(cmd.Context(), email, hashed)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created admin %d (%s)\n", user.ID, user.Email)
			return nil
		},
	}
}
