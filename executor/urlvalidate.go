// URL validation (SSRF protection), §4.3.1. No library in the
// retrieval pack implements private-network/redirect-bypass
// detection, so this is built directly on net/url and net.IP.
package executor

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apxerrors "browserfleet/errors"
)

// ValidationFailure is a pre-classified validator rejection: Kind is
// one of the §7 taxonomy entries, Reason is the human-readable detail
// (never surfaced to clients, only logged).
type ValidationFailure struct {
	Kind   apxerrors.Kind
	Reason string
}

func (f *ValidationFailure) Error() string { return string(f.Kind) + ": " + f.Reason }

const (
	InvalidURL      = apxerrors.InvalidArgument
	BlockedByPolicy = apxerrors.BlockedByPolicy
)

const maxURLLength = 2048
const maxHostLength = 253

// URLPolicy configures what the validator allows.
type URLPolicy struct {
	AllowPrivateNetworks bool
	AllowFileProtocol    bool
	BlockedHosts         []string
}

// URLValidationResult carries the normalized URL plus any non-fatal
// warnings (dynamic-DNS hosts, free TLDs) that must not block.
type URLValidationResult struct {
	NormalizedURL string
	Warnings      []string
}

var redirectParamNames = map[string]struct{}{
	"redirect": {}, "url": {}, "next": {}, "continue": {}, "return": {}, "goto": {},
}

var freeTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "ga": {}, "cf": {}, "gq": {},
}

var dynDNSSuffixes = []string{".ddns.net", ".no-ip.org", ".duckdns.org"}

// ValidateURL runs the SSRF checklist in order, returning either a
// result (with normalized URL and warnings) or an error already
// classified as InvalidUrl or BlockedByPolicy.
func ValidateURL(raw string, policy URLPolicy) (*URLValidationResult, *ValidationFailure) {
	if len(raw) > maxURLLength {
		return nil, &ValidationFailure{Kind: InvalidURL, Reason: "url exceeds max length"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationFailure{Kind: InvalidURL, Reason: "url failed to parse"}
	}

	switch u.Scheme {
	case "http", "https":
	case "file":
		if !policy.AllowFileProtocol {
			return nil, &ValidationFailure{Kind: BlockedByPolicy, Reason: "file protocol not allowed"}
		}
	default:
		return nil, &ValidationFailure{Kind: InvalidURL, Reason: "unsupported protocol: " + u.Scheme}
	}

	host := u.Hostname()
	if host == "" {
		return nil, &ValidationFailure{Kind: InvalidURL, Reason: "empty host"}
	}
	if len(host) > maxHostLength {
		return nil, &ValidationFailure{Kind: InvalidURL, Reason: "host exceeds max length"}
	}

	for _, blocked := range policy.BlockedHosts {
		if strings.EqualFold(blocked, host) {
			return nil, &ValidationFailure{Kind: BlockedByPolicy, Reason: "host is blocked"}
		}
	}

	if !policy.AllowPrivateNetworks {
		if blocked, reason := isPrivateNetworkHost(host); blocked {
			return nil, &ValidationFailure{Kind: BlockedByPolicy, Reason: reason}
		}
	}

	var warnings []string
	if w := scanRedirectParams(u); w != "" {
		warnings = append(warnings, w)
	}
	warnings = append(warnings, hostWarnings(host)...)

	return &URLValidationResult{NormalizedURL: normalizeURL(u), Warnings: warnings}, nil
}

func isPrivateNetworkHost(host string) (bool, string) {
	if strings.EqualFold(host, "localhost") {
		return true, "localhost is a private-network host"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// not a literal IP; can't classify further without a DNS
		// lookup, which the validator intentionally avoids (TOCTOU).
		return false, ""
	}
	if ip.IsLoopback() {
		return true, "loopback address"
	}
	if ip.IsLinkLocalUnicast() {
		return true, "link-local address"
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 10 {
			return true, "10/8 private range"
		}
		if ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31 {
			return true, "172.16/12 private range"
		}
		if ip4[0] == 192 && ip4[1] == 168 {
			return true, "192.168/16 private range"
		}
		if ip4[0] == 169 && ip4[1] == 254 {
			return true, "169.254/16 link-local range"
		}
		return false, ""
	}
	if ip.IsPrivate() {
		return true, "IPv6 unique-local address"
	}
	return false, ""
}

var doublyEncodedScheme = regexp.MustCompile(`(?i)%25(?:68|74)`) // %25 + hex of 'h'/'t' catches http(s):// re-encoded

func scanRedirectParams(u *url.URL) string {
	q := u.Query()
	for name, values := range q {
		if _, ok := redirectParamNames[strings.ToLower(name)]; !ok {
			continue
		}
		for _, v := range values {
			if strings.Contains(v, "://") || doublyEncodedScheme.MatchString(v) {
				return "query parameter '" + name + "' carries a nested URL"
			}
		}
	}
	return ""
}

func hostWarnings(host string) []string {
	var out []string
	lower := strings.ToLower(host)
	for _, suffix := range dynDNSSuffixes {
		if strings.HasSuffix(lower, suffix) {
			out = append(out, "host uses a dynamic-DNS provider")
			break
		}
	}
	if idx := strings.LastIndex(lower, "."); idx != -1 {
		tld := lower[idx+1:]
		if _, ok := freeTLDs[tld]; ok {
			out = append(out, "host uses a free top-level domain")
		}
	}
	return out
}

// normalizeURL strips default ports and maps an empty path to "/",
// matching the round-trip property in §8 ("finalUrl is a
// normalization of url").
func normalizeURL(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port != "" {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			port = ""
		}
	}
	hostport := host
	if port != "" {
		hostport = net.JoinHostPort(host, port)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	out := u.Scheme + "://" + hostport + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		out += "#" + u.Fragment
	}
	return out
}

// isValidPort reports whether s is a decimal port number in 1..65535.
func isValidPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}
