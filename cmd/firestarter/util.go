package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/loykin/firestarter"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// confirm asks a y/N question; anything but y or yes declines.
func confirm(in io.Reader, out io.Writer, question string) bool {
	_, _ = fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// apiURLFromConfig derives the daemon URL from the [server] section.
func apiURLFromConfig(cfg *firestarter.Config) string {
	if cfg == nil || cfg.Server.Listen == "" {
		return defaultAPIURL
	}
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		return defaultAPIURL
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	base := strings.Trim(strings.TrimSpace(cfg.Server.BasePath), "/")
	if base != "" {
		base = "/" + base
	}
	return "http://" + net.JoinHostPort(host, port) + base
}
