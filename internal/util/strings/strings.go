// Package strings holds string helpers for user-facing output.
package strings

import "fmt"

// Pluralize returns word with an "s" appended unless count is 1.
func Pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}

// Count renders a count together with its pluralized unit, for log and
// console lines like "3 files" or "1 entry".
func Count(count int, word string) string {
	return fmt.Sprintf("%d %s", count, Pluralize(word, count))
}
