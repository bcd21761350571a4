// Package appid derives Android application identifiers and workspace
// directory names from user-supplied app names.
//
// Two distinct sanitizations live here:
//   - Derive produces a valid reverse-DNS Java package id from any Unicode
//     input (used for the generated Android project).
//   - DirName produces a filesystem-safe ASCII directory name (used for
//     build workspaces; the external toolchains choke on non-ASCII paths).
package appid

import (
	"fmt"
	"strings"
)

// Prefix is prepended to every derived application id.
const Prefix = "com.vibecoding."

// Derive converts an app name into a valid Android application id.
//
// The name is lowercased, runs of characters outside [a-z0-9] become single
// dots, edge dots are stripped, and each dot-separated segment is forced to
// start with a letter. An empty result falls back to "app", so e.g.
// "我的应用" derives to "com.vibecoding.app" and "123App" to
// "com.vibecoding.a123app".
func Derive(appName string) string {
	lower := strings.ToLower(appName)

	var b strings.Builder
	b.Grow(len(lower))
	pendingDot := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDot && b.Len() > 0 {
				b.WriteByte('.')
			}
			pendingDot = false
			b.WriteRune(r)
			continue
		}
		pendingDot = true
	}

	cleaned := b.String()
	if cleaned == "" {
		cleaned = "app"
	}

	segments := strings.Split(cleaned, ".")
	for i, seg := range segments {
		if seg == "" {
			segments[i] = fmt.Sprintf("app%d", i)
			continue
		}
		if seg[0] < 'a' || seg[0] > 'z' {
			segments[i] = "a" + seg
		}
	}
	return Prefix + strings.Join(segments, ".")
}

// DirName sanitizes an app name for use as a workspace directory name.
// Characters outside [A-Za-z0-9_.-] become underscores, runs of underscores
// collapse, edge underscores are trimmed, and an empty result falls back to
// "project".
func DirName(appName string) string {
	var b strings.Builder
	b.Grow(len(appName))
	lastUnderscore := false
	for _, r := range appName {
		safe := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-'
		switch {
		case safe:
			b.WriteRune(r)
			lastUnderscore = false
		case lastUnderscore:
			// collapse the run
		default:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "project"
	}
	return out
}
