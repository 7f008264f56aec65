// Package urlnorm canonicalizes source URLs so the same document found by
// different providers collapses to one key.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query keys removed during normalization.
var trackingParams = map[string]bool{
	"utm_source":          true,
	"utm_medium":          true,
	"utm_campaign":        true,
	"utm_term":            true,
	"utm_content":         true,
	"utm_id":              true,
	"utm_source_platform": true,
	"utm_creative_format": true,
	"fbclid":              true,
	"gclid":               true,
	"gclsrc":              true,
	"dclid":               true,
	"msclkid":             true,
	"mc_cid":              true,
	"mc_eid":              true,
	"ref":                 true,
	"referer":             true,
}

// Normalize returns the canonical form of raw: https scheme, lowercase host,
// tracking parameters removed, remaining parameters sorted, no fragment and
// no trailing slash (except the root path). Malformed input is returned
// unchanged. Normalize is idempotent.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[strings.ToLower(key)] {
				q.Del(key)
			}
		}
		u.RawQuery = encodeSorted(q)
	}
	u.ForceQuery = false

	switch {
	case u.Path == "":
		u.Path = "/"
	case len(u.Path) > 1 && strings.HasSuffix(u.Path, "/"):
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}

	return u.String()
}

// encodeSorted encodes q sorted by key, then by value.
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Domain returns the lowercase hostname of raw without a leading "www.",
// or "" if raw is not a parseable absolute URL.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
