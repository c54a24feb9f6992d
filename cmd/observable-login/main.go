// CLI GitHub Login
//
// Signs in to Observable through GitHub and reports whether the resulting
// session is authorized.
//
// Usage:
//
//	go run ./cmd/observable-login --login octocat --interactive
//
// Options:
//
//	    --env-file       .env file(s) to load (default: .env)
//	-l, --login          GitHub username (or set GITHUB_LOGIN env var)
//	-i, --interactive    Prompt for missing credentials and 2FA codes
//	    --max-attempts   Attempts allowed per login step (or set OBSERVABLE_MAX_ATTEMPTS)
//	    --debug          Enable debug logging (or set OBSERVABLE_DEBUG)
//
// The password is read from GITHUB_PASSWORD or prompted for with
// --interactive. It is never accepted as a flag.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DrewBradfordXYZ/observable-go"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFiles    []string
		loginName   string
		interactive bool
		maxAttempts int
		debug       bool
	)

	root := &cobra.Command{
		Use:           "observable-login",
		Short:         "Sign in to Observable with a GitHub account",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := observable.LoadConfig(envFiles...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("login") {
				cfg.Login = loginName
			}
			if cmd.Flags().Changed("max-attempts") {
				cfg.MaxAttempts = maxAttempts
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}

			opts := cfg.Options()
			if interactive {
				opts = append(opts, observable.WithInteractive())
			}
			c, err := observable.New(opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ok, err := c.Authorize(ctx)
			if err != nil {
				return describe(err)
			}
			if !ok {
				return errors.New("login completed but the session is not authorized")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "authorized")
			return nil
		},
	}

	root.Flags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env file(s) to load")
	root.Flags().StringVarP(&loginName, "login", "l", "", "GitHub username (env GITHUB_LOGIN)")
	root.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for missing credentials and 2FA codes")
	root.Flags().IntVar(&maxAttempts, "max-attempts", 3, "attempts allowed per login step (env OBSERVABLE_MAX_ATTEMPTS)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging (env OBSERVABLE_DEBUG)")

	return root
}

// describe adds a hint for the failures a user can act on.
func describe(err error) error {
	var tooMany *observable.TooManyAttemptsError
	switch {
	case errors.As(err, &tooMany):
		err = fmt.Errorf("%w (check the %s)", err, tooMany.Phase)
	case errors.Is(err, observable.ErrCapabilityUnsupported):
		err = fmt.Errorf("%w (rerun with --interactive)", err)
	case errors.Is(err, context.Canceled):
		err = errors.New("interrupted")
	}
	return err
}
