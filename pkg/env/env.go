// Package env holds the one-off environment lookups that predate config
// loading, such as picking the port before envconfig runs.
package env

import "os"

// Get returns the named environment variable, falling back when it is
// unset or empty.
func Get(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
