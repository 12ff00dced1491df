// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the gatekeeper /health endpoint returns HTTP
// 200, and 1 otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"net/http"
	"os"
	"time"

	"gatekeeper/internal/version"
)

func main() {
	port := os.Getenv("GATEKEEPER_PORT")
	if port == "" {
		port = "8080"
	}

	req, err := http.NewRequest(http.MethodGet, "http://localhost:"+port+"/health", nil)
	if err != nil {
		os.Exit(1)
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
