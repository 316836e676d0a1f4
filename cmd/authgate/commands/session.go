package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/authgate/internal/app"
	"github.com/florianilch/authgate/internal/session"
)

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "remove the stored access token",
		Action: logoutAction,
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show whether a session is stored",
		Action: statusAction,
	}
}

// openSession loads configuration and the persisted session.
// The returned cleanup releases the store and flushes logs.
func openSession(ctx context.Context, cmd *cli.Command) (*app.Config, *session.Store, func(), error) {
	cfg, cleanupLogs, err := setup(ctx, cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		cleanupLogs()
		return nil, nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}
	cleanup := func() {
		if closer, ok := store.(io.Closer); ok {
			_ = closer.Close()
		}
		cleanupLogs()
	}

	sess, err := session.New(ctx, store)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return cfg, sess, cleanup, nil
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	_, sess, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sess.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Fprintln(cmd.Root().Writer, "Logged out.")
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, sess, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	w := cmd.Root().Writer
	current := sess.Current()
	if !current.IsAuthenticated {
		fmt.Fprintf(w, "Not logged in (storage: %s).\n", cfg.Storage.Type)
		return nil
	}

	fmt.Fprintf(w, "Logged in (storage: %s).\n", cfg.Storage.Type)
	for _, line := range describeToken(current.Token, time.Now()) {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}

// describeToken summarizes the claims of a JWT access token for display.
// The signature is not checked, so nothing here may be trusted for access
// decisions. Opaque tokens yield no lines.
func describeToken(token string, now time.Time) []string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	var lines []string
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		lines = append(lines, "subject: "+sub)
	}
	if iss, err := claims.GetIssuer(); err == nil && iss != "" {
		lines = append(lines, "issuer: "+iss)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		state := "expires"
		if exp.Before(now) {
			state = "expired"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", state, exp.UTC().Format(time.RFC3339)))
	}
	return lines
}
