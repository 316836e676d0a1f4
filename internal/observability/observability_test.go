package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/processors/minsev"
)

func TestInstrumentPlainFormats(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "msg=hello") {
					t.Errorf("text output %q missing msg", out)
				}
			},
		},
		{
			format: "json",
			check: func(t *testing.T, out string) {
				var record map[string]any
				if err := json.Unmarshal([]byte(out), &record); err != nil {
					t.Fatalf("json output %q: %v", out, err)
				}
				if record["msg"] != "hello" {
					t.Errorf("msg = %v, want hello", record["msg"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			shutdown, err := instrument(context.Background(), &buf, slog.LevelInfo, tt.format, ExporterNone)
			if err != nil {
				t.Fatalf("instrument() error = %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			slog.Debug("hidden")
			slog.Info("hello")
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestInstrumentRejectsUnknownSettings(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "xml", ExporterNone); err == nil {
		t.Error("instrument() with unknown format error = nil")
	}
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "text", "carrier-pigeon"); err == nil {
		t.Error("instrument() with unknown exporter error = nil")
	}
}

func TestInstrumentStdoutExporter(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	shutdown, err := instrument(context.Background(), &buf, slog.LevelInfo, "text", ExporterStdout)
	if err != nil {
		t.Fatalf("instrument() error = %v", err)
	}

	slog.Info("exported")
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	if !strings.Contains(buf.String(), "exported") {
		t.Errorf("exporter output %q missing record", buf.String())
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  minsev.Severity
	}{
		{slog.LevelDebug, minsev.SeverityDebug},
		{slog.LevelInfo, minsev.SeverityInfo},
		{slog.LevelWarn, minsev.SeverityWarn},
		{slog.LevelError, minsev.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
