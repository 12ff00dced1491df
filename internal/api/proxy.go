package api

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"gatekeeper/internal/models"
)

// NewUpstreamProxy forwards admitted requests to target. Transport failures
// are answered with a 502 JSON error.
func NewUpstreamProxy(target *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("Upstream request failed",
				"error", err,
				"upstream", target.Host,
				"path", r.URL.Path,
				"request_id", RequestIDFromContext(r.Context()))
			writeError(w, r, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream service is unavailable")
		},
	}
}
