package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/loykin/firestarter"
)

func execute(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(strings.NewReader(input), &out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "", "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, want := range []string{"serve", "intent", "exec", "migrations", "notifications"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help misses %q: %s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil || !strings.Contains(out, "firestarter dev") {
		t.Fatalf("version: %q %v", out, err)
	}
}

func TestIntentCommandAsksBeforeMigrating(t *testing.T) {
	srv, sp := startDaemon(t)

	out, err := execute(t, "n\n", "intent", "migrate:default:2", "--wait", "--api-url", srv.URL)
	if err != nil {
		t.Fatalf("declined intent: %v", err)
	}
	if !strings.Contains(out, "Do you want to migrate from version `1` to `2`? [y/N]") || !strings.Contains(out, "Aborted.") {
		t.Fatalf("unexpected output: %s", out)
	}
	if sp.has("grunt release:migrate:2") {
		t.Fatal("migration ran after declining")
	}

	out, err = execute(t, "y\n", "intent", "migrate:default:2", "--wait", "--api-url", srv.URL)
	if err != nil {
		t.Fatalf("confirmed intent: %v", err)
	}
	if !strings.Contains(out, `"done": true`) || !sp.has("grunt release:migrate:2") {
		t.Fatalf("migration not applied: %s", out)
	}
}

func TestIntentCommandYesSkipsPrompt(t *testing.T) {
	srv, sp := startDaemon(t)
	out, err := execute(t, "", "intent", "migrate:default:2", "-y", "--wait", "--api-url", srv.URL)
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	if strings.Contains(out, "[y/N]") || !sp.has("grunt release:migrate:2") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestReadCommands(t *testing.T) {
	srv, _ := startDaemon(t)
	cases := map[string]string{
		"status":        `"state"`,
		"menu":          `"tree"`,
		"migrations":    `"pending"`,
		"intents":       `"build-and-restart"`,
		"refresh":       `"refreshed_at"`,
		"notifications": `"last"`,
	}
	for name, want := range cases {
		out, err := execute(t, "", name, "--api-url", srv.URL)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !strings.Contains(out, want) {
			t.Fatalf("%s output misses %s: %s", name, want, out)
		}
	}
}

func TestCommandsRequireDaemon(t *testing.T) {
	_, err := execute(t, "", "status", "--api-url", "http://127.0.0.1:1", "--api-timeout", "100ms")
	if err == nil || !strings.Contains(err.Error(), "daemon not reachable") {
		t.Fatalf("expected unreachable daemon error, got %v", err)
	}
}

func TestAPIURLFromConfig(t *testing.T) {
	cases := []struct {
		listen, base, want string
	}{
		{"", "", defaultAPIURL},
		{"127.0.0.1:8735", "", "http://127.0.0.1:8735"},
		{":9000", "fire/", "http://127.0.0.1:9000/fire"},
		{"0.0.0.0:9000", "/api", "http://127.0.0.1:9000/api"},
		{"example.org:80", "", "http://example.org:80"},
		{"not-an-addr", "", defaultAPIURL},
	}
	for _, tc := range cases {
		cfg := &firestarter.Config{}
		cfg.Server.Listen = tc.listen
		cfg.Server.BasePath = tc.base
		if got := apiURLFromConfig(cfg); got != tc.want {
			t.Errorf("apiURLFromConfig(%q,%q)=%q want %q", tc.listen, tc.base, got, tc.want)
		}
	}
	if apiURLFromConfig(nil) != defaultAPIURL {
		t.Error("nil config should use the default URL")
	}
}

func TestConfirm(t *testing.T) {
	for input, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false} {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(input), &out, "Proceed?"); got != want {
			t.Errorf("confirm(%q)=%v", input, got)
		}
		if out.String() != "Proceed? [y/N] " {
			t.Errorf("unexpected prompt %q", out.String())
		}
	}
}
