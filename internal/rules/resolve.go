package rules

import "net/url"

// Resolve picks the rule to auto-apply for a tab URL. An exact-URL rule
// always beats a domain rule for the same page.
func Resolve(rules []Rule, rawURL string) (Rule, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Rule{}, false
	}
	host := parsed.Hostname()

	var domainMatch Rule
	var haveDomain bool
	for _, r := range rules {
		switch r.Scope {
		case ScopeURL:
			if r.Key == rawURL {
				return r, true
			}
		case ScopeDomain:
			if !haveDomain && host != "" && r.Key == host {
				domainMatch = r
				haveDomain = true
			}
		}
	}
	return domainMatch, haveDomain
}
