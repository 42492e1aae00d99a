package logger

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	kit "github.com/nuxxor/Mevzubase/internal/platform/testkit"
)

func TestParseLevel_AllBranches(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"trace", "trace"},
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"fatal", "fatal"},
		{"panic", "panic"},
		{"", "info"},
		{"   nonsense   ", "info"},
	}
	for _, c := range cases {
		lvl := parseLevel(c.in)
		if strings.ToLower(lvl.String()) != c.want {
			t.Fatalf("parseLevel(%q) = %q, want %q", c.in, lvl, c.want)
		}
	}
}

func TestBuild_JSONCarriesStaticAndRunFields(t *testing.T) {
	var buf bytes.Buffer
	l := build(Options{
		Level:        "debug",
		Format:       "json",
		Service:      "mevzubase-ingest",
		Writer:       &buf,
		StaticFields: map[string]string{"build": "test"},
	})

	ctx := Into(context.Background(), &l)
	ctx = WithRun(ctx, RunFields{RunID: "r-1", Connector: "yargitay", Shard: "yargitay:2020-01-01->2020-01-31"})
	C(ctx).Info().Msg("drain started")

	out := buf.String()
	kit.MustContain(t, out, `"message":"drain started"`)
	kit.MustContain(t, out, `"run_id":"r-1"`)
	kit.MustContain(t, out, `"connector":"yargitay"`)
	kit.MustContain(t, out, `"shard":"yargitay:2020-01-01->2020-01-31"`)
	kit.MustContain(t, out, `"service":"mevzubase-ingest"`)
	kit.MustContain(t, out, `"build":"test"`)
}

func TestUseConsole(t *testing.T) {
	kit.Swap(t, &isTerminal, func(*os.File) bool { return true })

	if !useConsole("console", &bytes.Buffer{}) {
		t.Fatalf("console format must force console writer")
	}
	if useConsole("json", os.Stderr) {
		t.Fatalf("json format must never use console writer")
	}
	if !useConsole("auto", os.Stderr) {
		t.Fatalf("auto on a terminal should use console writer")
	}
	if useConsole("auto", &bytes.Buffer{}) {
		t.Fatalf("auto on a buffer should stay json")
	}
}

func TestFromEnv_Independently(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_SERVICE", "svc-b")
	t.Setenv("LOG_CALLER", "true")
	t.Setenv("LOG_SAMPLE_EVERY", "5")

	opt := FromEnv()
	if opt.Level != "warn" || opt.Format != "json" || opt.Service != "svc-b" {
		t.Fatalf("FromEnv fields mismatch: %+v", opt)
	}
	if !opt.WithCaller || opt.SampleEvery != 5 {
		t.Fatalf("FromEnv caller/sample mismatch: %+v", opt)
	}
}

func TestC_FallsBackToRoot(t *testing.T) {
	if C(context.Background()) == nil {
		t.Fatalf("C must never return nil")
	}
	if Into(context.Background(), nil) == nil {
		t.Fatalf("Into(nil) must return the original ctx")
	}
}
