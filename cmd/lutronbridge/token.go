package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/nerrad567/gray-logic-lutron/internal/auth"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/config"
)

// runToken prints a signed API token for an operator or integration. The
// secret comes from the service configuration so tokens verify against
// the running API.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. a user or integration name")
	role := fs.String("role", string(auth.RoleViewer), "role: viewer, operator or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: security.jwt.access_token_ttl)")
	configPath := fs.String("config", getConfigPath(), "path to configuration file (env: "+configPathEnv+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subject == "" {
		return errors.New("token: -subject is required")
	}
	if !auth.IsValidRole(auth.Role(*role)) {
		return fmt.Errorf("token: %w: %q", auth.ErrInvalidRole, *role)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("token: security.jwt.secret is not configured")
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.GetTokenTTL()
	}
	token, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
