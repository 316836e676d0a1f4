package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/authgate/internal/app"
)

// loginGracePeriod keeps the server up after login so the browser can follow
// the callback's redirect to the home page.
const loginGracePeriod = 2 * time.Second

var errLoginAborted = errors.New("login aborted")

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in through the identity provider and store the access token",
		Flags: append(serverFlags(),
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "print the login URL instead of opening a browser",
			},
		),
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	cfg, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := checkLoginStorage(cfg); err != nil {
		return err
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	if application.Session().Current().IsAuthenticated {
		fmt.Fprintln(cmd.Root().Writer, "Already logged in.")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- application.Start(runCtx) }()

	loginURL := application.LoginURL()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintf(cmd.Root().Writer, "Complete the login in your browser: %s\n", loginURL)
	} else {
		fmt.Fprintln(cmd.Root().Writer, loginURL)
	}
	launchBrowser(ctx, loginURL, cmd.Bool("no-browser"))

	if err := awaitLogin(runCtx, cancel, application, done, loginGracePeriod); err != nil {
		return err
	}

	fmt.Fprintln(cmd.Root().Writer, "Logged in.")
	return nil
}

// checkLoginStorage rejects backends that would lose the token when the
// command exits.
func checkLoginStorage(cfg *app.Config) error {
	if !cfg.Storage.Persistent() {
		return fmt.Errorf("login requires persistent storage, %s storage is not kept after exit", cfg.Storage.Type)
	}
	return nil
}

type loginWaiter interface {
	WaitForLogin(ctx context.Context) error
}

// awaitLogin blocks until the session is authenticated or the server stops.
// After a login the server keeps running for grace before stop is called.
// done receives the server's exit error.
func awaitLogin(ctx context.Context, stop context.CancelFunc, waiter loginWaiter, done <-chan error, grace time.Duration) error {
	loggedIn := make(chan error, 1)
	go func() { loggedIn <- waiter.WaitForLogin(ctx) }()

	select {
	case err := <-loggedIn:
		if err != nil {
			stop()
			<-done
			return errLoginAborted
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		case serverErr := <-done:
			return serverError(serverErr)
		}
		stop()
		return serverError(<-done)

	case serverErr := <-done:
		// The server stopped before a login arrived
		stop()
		<-loggedIn
		if serverErr == nil {
			return errLoginAborted
		}
		return serverError(serverErr)
	}
}

func serverError(err error) error {
	if err != nil {
		return fmt.Errorf("login server: %w", err)
	}
	return nil
}
