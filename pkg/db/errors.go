package db

import "strings"

// IsUniqueViolation reports whether err looks like a Postgres unique-constraint
// failure. With constraintName set it checks for that specific constraint,
// otherwise any duplicate-key message matches.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if constraintName != "" {
		return strings.Contains(err.Error(), constraintName)
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
