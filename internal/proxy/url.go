package proxy

import "net/url"

// parseProxyURL parses a proxy endpoint string, defaulting to the http
// scheme when none is given (most proxy lists are bare host:port).
func parseProxyURL(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		return url.Parse("http://" + endpoint)
	}
	return u, nil
}
