package utils

import (
	"fmt"
	"net/url"
)

func parseListenUrl(urlstr, defaultPort string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch uri.Scheme {
	case "tcp", "http":
	default:
		return "", fmt.Errorf("%w: unsupported protocol: %s", ErrParse, uri.Scheme)
	}

	if uri.Port() == "" {
		uri.Host += ":" + defaultPort
	}

	return uri.Host, nil
}

// Parses a string of the form <scheme>://<host>[:<port>] and returns the
// host and port to listen on. The scheme must be "tcp" or "http".
// If the port is not specified, it defaults to 8080.
func ParseHttpUrl(urlstr string) (string, error) {
	return parseListenUrl(urlstr, "8080")
}

// Same as ParseHttpUrl, but the port defaults to 9090.
func ParseGrpcUrl(urlstr string) (string, error) {
	return parseListenUrl(urlstr, "9090")
}

// Validates an agent or dashboard endpoint. Only http and https are accepted.
func ParseEndpointUrl(urlstr string) (*url.URL, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch uri.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported protocol: %s", ErrParse, uri.Scheme)
	}

	if uri.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %s", ErrParse, urlstr)
	}

	return uri, nil
}
