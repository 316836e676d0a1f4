package commands

import (
	"context"
	"log/slog"

	"github.com/skratchdot/open-golang/open"
)

// openURL hands url to the desktop's default browser.
var openURL = open.Start

// launchBrowser opens url unless disabled. Failures are only logged since the
// URL has already been printed.
func launchBrowser(ctx context.Context, url string, disabled bool) {
	if disabled {
		return
	}
	if err := openURL(url); err != nil {
		slog.WarnContext(ctx, "could not open browser", "error", err)
	}
}
