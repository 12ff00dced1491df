package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// KeyFunc resolves the client identity a request is limited under.
type KeyFunc func(r *http.Request) string

// HeaderKey uses the first comma-separated entry of header, falling back to
// the peer address when the header is absent or empty. With X-Forwarded-For
// this is the originating client as reported by the first proxy.
func HeaderKey(header string) KeyFunc {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		return NetworkKey(r)
	}
}

// NetworkKey uses the peer address without the port. Headers are ignored, so
// clients cannot choose their own identity.
func NetworkKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyFuncFor returns the extractor registered under name.
func KeyFuncFor(name, header string) (KeyFunc, error) {
	switch name {
	case "header":
		if header == "" {
			return nil, fmt.Errorf("header key extractor requires a header name")
		}
		return HeaderKey(header), nil
	case "network":
		return NetworkKey, nil
	default:
		return nil, fmt.Errorf("unknown key extractor: %s", name)
	}
}
