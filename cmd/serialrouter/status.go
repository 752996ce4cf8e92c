package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tidewater/serialrouter/pkg/health"
)

// printRemoteStatus queries a running instance's /status endpoint and
// renders it as JSON or YAML. It first probes /health with an HTTPChecker
// so a dead or unreachable instance is reported as a clean CLI error
// rather than a raw connection-refused.
func printRemoteStatus(addr, format string, out io.Writer) error {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	checker := health.NewHTTPChecker(base + "/health")
	result := checker.Check(context.Background())
	if !result.Healthy {
		return fmt.Errorf("instance at %s is unreachable: %s", addr, result.Message)
	}

	resp, err := http.Get(base + "/status")
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(payload)
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
}
