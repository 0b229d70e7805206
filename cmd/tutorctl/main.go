// tutorctl is a small admin client for a running tutor-service.
package main

import (
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	apiFlag  string
	userFlag string
	rootCmd  = &cobra.Command{
		Use:   "tutorctl",
		Short: "CLI client for the tutor service REST API",
	}
)

func client() *resty.Client {
	return resty.New().SetBaseURL(apiFlag)
}

func printBody(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	_, _ = fmt.Fprintln(os.Stdout, resp.String())
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Tutor service base URL")

	// hp subcommand group
	hpCmd := &cobra.Command{Use: "hp", Short: "Health point operations"}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's health point ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return printBody(client().R().
				SetHeader("X-Auth-User", userFlag).
				Get("/health-status"))
		},
	}
	statusCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User login name (required)")
	_ = statusCmd.MarkFlagRequired("user")
	hpCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(hpCmd)

	// analytics subcommand
	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show aggregate usage counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printBody(client().R().Get("/analytics"))
		},
	}
	rootCmd.AddCommand(analyticsCmd)

	// health subcommand
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printBody(client().R().Get("/health"))
		},
	}
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
