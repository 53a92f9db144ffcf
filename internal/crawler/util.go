package crawler

import (
	"crypto/sha1" // #nosec G505 -- used for file naming, not security.
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// pageBasename derives a collision-resistant file name for a fetched page.
func pageBasename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return hashURL(raw)
	}
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	if len(p) > 80 {
		p = p[:80]
	}
	return fmt.Sprintf("%s_%s", p, hashURL(raw)[:16])
}

func hashURL(raw string) string {
	sum := sha1.Sum([]byte(raw)) // #nosec G401 -- used for file naming, not security.
	return hex.EncodeToString(sum[:])
}
