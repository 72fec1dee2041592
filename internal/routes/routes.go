// Package routes builds the service endpoint URLs.
package routes

import (
	"errors"
	"strings"
)

// ErrEmptyParam is returned when any URL part is empty.
var ErrEmptyParam = errors.New("route parameter cannot be an empty string")

// Join joins URL parts with slashes. A trailing slash is trimmed from every
// part except the last.
func Join(parts ...string) string {
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p = strings.TrimSuffix(p, "/")
		}
		trimmed[i] = p
	}
	return strings.Join(trimmed, "/")
}

func build(parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" {
			return "", ErrEmptyParam
		}
	}
	return Join(parts...), nil
}

// Version is the API version endpoint.
func Version(api string) (string, error) { return build(api, "version") }

// DefaultSettings is the endpoint serving the service's default settings.
func DefaultSettings(api string) (string, error) { return build(api, "default-settings") }

// Start is the endpoint that accepts new analyses.
func Start(api string) (string, error) { return build(api, "analysis") }

// Results is the endpoint listing an analysis' results.
func Results(api, id string) (string, error) { return build(api, "analysis", id) }

// Status is the endpoint reporting an analysis' status.
func Status(api, id string) (string, error) { return build(api, "analysis", id, "status") }

// Cancel is the endpoint that cancels an analysis.
func Cancel(api, id string) (string, error) { return build(api, "analysis", id, "cancel") }
