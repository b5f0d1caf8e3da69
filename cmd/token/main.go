// Command token prints a signed access token for a user, for calling the
// quests API during local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/config"
	"github.com/phrazzld/scry-quests/internal/service/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a config file (default ./config.yaml if present)")
	user := fs.String("user", "", "user ID to issue the token for (random if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			return fmt.Errorf("invalid user ID: %w", err)
		}
		userID = parsed
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return err
	}

	svc, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return err
	}

	token, err := svc.GenerateToken(context.Background(), userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "user: %s\n", userID)
	fmt.Fprintln(stdout, token)
	return nil
}
