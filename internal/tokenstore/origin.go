package tokenstore

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// Backend kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindFile   = "file"
)

// Origin reduces a backend base URL to scheme://host[:port], lowercased,
// with default ports dropped. Two base URLs that differ only in path share
// an origin and therefore share credentials.
func Origin(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("tokenstore: parsing base url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("tokenstore: base url %q must be http or https", baseURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("tokenstore: base url %q has no host", baseURL)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return scheme + "://" + host, nil
}

// Open creates the backend of the given kind under dir for origin.
func Open(kind, dir, origin string, logger *slog.Logger) (Backend, error) {
	switch kind {
	case KindSQLite, "":
		return OpenSQLite(dir, origin, logger)
	case KindFile:
		return OpenFile(dir, origin, logger)
	default:
		return nil, fmt.Errorf("tokenstore: unknown backend %q (want %q or %q)", kind, KindSQLite, KindFile)
	}
}

// fileSafe turns an origin into a string usable as a file name.
func fileSafe(origin string) string {
	r := strings.NewReplacer("://", "_", ":", "_", "/", "_", "[", "", "]", "")
	return r.Replace(origin)
}
