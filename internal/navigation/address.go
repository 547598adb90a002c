package navigation

import (
	"fmt"
	"net/url"
	"strings"
)

// BlankPage is navigated to when the address is empty.
const BlankPage = "about:blank"

// DefaultScheme is prepended to addresses typed without one.
const DefaultScheme = "https"

// opaque schemes are passed through untouched
var opaqueSchemes = []string{"about:", "data:", "file:", "blob:"}

// NormalizeAddress turns user input into a navigable URI.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return BlankPage, nil
	}

	lower := strings.ToLower(trimmed)
	for _, prefix := range opaqueSchemes {
		if strings.HasPrefix(lower, prefix) {
			return trimmed, nil
		}
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = DefaultScheme + "://" + strings.TrimPrefix(trimmed, "//")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}
	if parsed.Host == "" || strings.ContainsAny(parsed.Host, " \t") {
		return "", fmt.Errorf("%w %q: missing host", ErrInvalidAddress, address)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	return parsed.String(), nil
}

func displayHost(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return uri
	}
	return parsed.Hostname()
}
