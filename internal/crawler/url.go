package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// URLToFilename flattens host and path into a single file name component,
// e.g. "http://example.com/a/b" becomes "example.com_a_b". Result files and
// result messages are keyed by it.
func URLToFilename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ReplaceAll(raw, "/", "_")
	}
	return strings.ReplaceAll(u.Host+u.Path, "/", "_")
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// uniqueStartURLs drops duplicate start URLs, keeping first occurrence order.
func uniqueStartURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		key, err := NormalizeURL(strings.TrimSpace(raw))
		if err != nil || key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(raw))
	}
	return out
}
