// Package ids generates the short random identifiers used across the service:
// 12-character task ids (job identity in the queue, upload directory names,
// artifact suffixes) and 16-character trace ids (request correlation in logs).
//
// Identifiers use a URL-safe 64-character alphabet so they can appear in
// paths, query strings, and file names without escaping.
package ids

import (
	"crypto/rand"
	"fmt"
)

// alphabet is the URL-safe character set. Its length is exactly 64 so a
// random byte masked to 6 bits maps uniformly onto it.
const alphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"

// TaskIDLength is the length of task identifiers.
const TaskIDLength = 12

// TraceIDLength is the length of request trace identifiers.
const TraceIDLength = 16

// NewTaskID returns a new 12-character URL-safe task identifier.
func NewTaskID() string {
	return random(TaskIDLength)
}

// NewTraceID returns a new 16-character URL-safe trace identifier.
func NewTraceID() string {
	return random(TraceIDLength)
}

func random(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; treat it as fatal.
		panic(fmt.Sprintf("ids: crypto/rand unavailable: %v", err))
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[b&63]
	}
	return string(out)
}
