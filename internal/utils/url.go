package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://\S+|www\.\S+`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ContainsURL(content string) bool {
	return urlRegex.MatchString(content)
}

// ExtractURLs returns every link in content without trailing punctuation.
func ExtractURLs(content string) []string {
	matches := urlRegex.FindAllString(content, -1)
	for i, match := range matches {
		matches[i] = strings.TrimRight(match, `.,;:!?)>"'`)
	}
	return matches
}

func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := NormalizeDomain(parsed.Hostname())
	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

// NormalizeDomain lowercases a host and converts it to its punycode form so
// that "bücher.example" and "xn--bcher-kva.example" compare equal.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	domain = strings.TrimPrefix(domain, "www.")
	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		return ascii
	}
	return domain
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}

// DomainAllowed matches the domain itself or any parent listed in allowlist.
func DomainAllowed(domain string, allowlist map[string]struct{}) bool {
	domain = NormalizeDomain(domain)
	for domain != "" {
		if _, ok := allowlist[domain]; ok {
			return true
		}
		idx := strings.IndexByte(domain, '.')
		if idx < 0 {
			return false
		}
		domain = domain[idx+1:]
	}
	return false
}
