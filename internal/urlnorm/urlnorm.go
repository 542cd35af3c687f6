// Package urlnorm canonicalizes article URLs so they can serve as dedup keys.
package urlnorm

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var trackingParamPrefixes = []string{"utm_", "fbclid", "gclid", "mc_", "igshid"}

// Normalize lowercases scheme and host, drops the fragment and default ports,
// removes tracking parameters, sorts the remaining query and strips trailing
// slashes from non-root paths. Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL provided for normalization: %s: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL provided for normalization: %s", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}

	out := scheme + "://" + host + path
	if query := cleanQuery(u.RawQuery); query != "" {
		out += "?" + query
	}
	return out, nil
}

// cleanQuery works on raw pairs so that pairs url.ParseQuery would reject
// (semicolons, bad escapes) still take part in the key.
func cleanQuery(raw string) string {
	if raw == "" {
		return ""
	}
	type pair struct{ key, raw string }
	var pairs []pair
	for _, p := range strings.Split(raw, "&") {
		if p == "" {
			continue
		}
		key, _, _ := strings.Cut(p, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if isTrackingParam(key) {
			continue
		}
		pairs = append(pairs, pair{key: key, raw: p})
	}
	// Stable by key: repeated keys keep their original order.
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	kept := make([]string, len(pairs))
	for i, p := range pairs {
		kept[i] = p.raw
	}
	return strings.Join(kept, "&")
}

// Host returns the lowercased hostname of raw, or "" when it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	for _, prefix := range trackingParamPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
