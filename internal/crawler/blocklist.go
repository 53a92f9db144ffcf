package crawler

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// linkFilter decides which extracted links are followed. Start URLs are never
// filtered.
type linkFilter struct {
	allow      []*regexp.Regexp
	deny       []*regexp.Regexp
	extensions map[string]struct{}
}

func newLinkFilter(whitelist, blacklist, deniedExtensions []string) (*linkFilter, error) {
	allow, err := compilePatterns(whitelist)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	deny, err := compilePatterns(blacklist)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}
	exts := make(map[string]struct{}, len(deniedExtensions))
	for _, ext := range deniedExtensions {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext != "" {
			exts[ext] = struct{}{}
		}
	}
	return &linkFilter{allow: allow, deny: deny, extensions: exts}, nil
}

func compilePatterns(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Allow reports whether link may be followed and, if not, why.
func (f *linkFilter) Allow(link string) (bool, string) {
	u, err := url.Parse(link)
	if err != nil {
		return false, "unparseable url"
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return false, "no valid url"
	}
	if len(f.allow) > 0 && !matchesAny(link, f.allow) {
		return false, "does not match whitelist"
	}
	if matchesAny(link, f.deny) {
		return false, "matches blacklist"
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if _, denied := f.extensions[ext]; denied && ext != "" {
		return false, "extension is denied"
	}
	return true, ""
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
