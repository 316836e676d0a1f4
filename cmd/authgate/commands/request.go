package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/authgate/internal/gateway"
)

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send an authenticated request and print the response body",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP method (defaults to GET, or POST with --data)",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "request body",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "extra header as 'Name: value' (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "include",
				Aliases: []string{"i"},
				Usage:   "print the response status line before the body",
			},
			&cli.StringFlag{
				Name:  "backend--api-base-url",
				Usage: "base URL relative request URLs are resolved against",
			},
		},
		Action: requestAction,
	}
}

func requestAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("request needs exactly one URL argument")
	}

	cfg, sess, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	target, err := resolveURL(cfg.Backend.APIBaseURL, cmd.Args().First())
	if err != nil {
		return err
	}

	header, err := parseHeaders(cmd.StringSlice("header"))
	if err != nil {
		return err
	}

	method := cmd.String("method")
	var body io.Reader
	if data := cmd.String("data"); data != "" {
		body = strings.NewReader(data)
		if method == "" {
			method = http.MethodPost
		}
	}

	gw, err := gateway.New(sess)
	if err != nil {
		return err
	}

	resp, err := gw.Do(ctx, method, target, body, header)
	if errors.Is(err, gateway.ErrSessionExpired) {
		return fmt.Errorf("%w (run `authgate login`)", err)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	w := cmd.Root().Writer
	if cmd.Bool("include") {
		fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return nil
}

// resolveURL resolves raw against base when raw is relative.
func resolveURL(base, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative URL %q needs backend.api_base_url", raw)
	}

	baseURL, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}
	return baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}

// parseHeaders turns "Name: value" strings into a header map.
func parseHeaders(raw []string) (http.Header, error) {
	header := make(http.Header)
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}
