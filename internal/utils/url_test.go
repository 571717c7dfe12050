package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	normalized, domain, err := NormalizeURL("https://Example.com/path?utm_source=test&x=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "example.com" {
		t.Fatalf("unexpected domain: %s", domain)
	}
	if normalized != "https://example.com/path?x=1" {
		t.Fatalf("unexpected normalized url: %s", normalized)
	}
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("see http://a.com/x and www.b.org, or https://c.net")
	if len(urls) != 3 {
		t.Fatalf("expected 3 urls, got %v", urls)
	}
	if urls[1] != "www.b.org" {
		t.Fatalf("unexpected bare url %q", urls[1])
	}
	if ContainsURL("no links here, just example.com") {
		t.Fatalf("bare domains without scheme or www should not match")
	}
}

func TestNormalizeDomainIDNA(t *testing.T) {
	if got := NormalizeDomain("WWW.Bücher.Example."); got != "xn--bcher-kva.example" {
		t.Fatalf("unexpected punycode domain: %s", got)
	}
}

func TestDomainAllowed(t *testing.T) {
	allow := map[string]struct{}{"good.com": {}, "xn--bcher-kva.example": {}}
	if !DomainAllowed("good.com", allow) {
		t.Fatalf("expected exact match")
	}
	if !DomainAllowed("cdn.GOOD.com", allow) {
		t.Fatalf("expected subdomain match")
	}
	if DomainAllowed("notgood.com", allow) {
		t.Fatalf("suffix without a dot boundary must not match")
	}
	if !DomainAllowed("bücher.example", allow) {
		t.Fatalf("expected unicode domain to match its punycode entry")
	}
}
