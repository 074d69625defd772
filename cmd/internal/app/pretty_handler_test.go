package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_RequestAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Warn("http.request",
		"method", "post",
		"path", "/auth/refresh",
		"status", 401,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"user_agent", "curl/8.0 (x86_64)",
	)

	raw := buf.String()
	if !strings.Contains(raw, ansiYellow+"401"+ansiReset) {
		t.Fatalf("status not colored: %q", raw)
	}

	plain := stripANSI(raw)
	for _, want := range []string{
		"lvl=[WARN]",
		"method=POST",
		"path=/auth/refresh",
		"class=4xx",
		"duration=12ms",
		`user_agent="curl/8.0 (x86_64)"`,
	} {
		if !strings.Contains(plain, want) {
			t.Fatalf("missing %q in %q", want, plain)
		}
	}
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("hidden")
	log.WithGroup("db").Error("db.ping.fail", slog.Group("pool", slog.Int("max", 10)), "err", "timeout")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("record below level was written: %q", out)
	}
	for _, want := range []string{"[ERROR]", "db.pool.max=10", "db.err=timeout"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}
