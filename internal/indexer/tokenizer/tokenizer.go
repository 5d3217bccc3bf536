// Package tokenizer splits archive entry paths into index terms. A term is
// one path segment taken verbatim: no case folding, no stemming, and empty
// segments are kept.
package tokenizer

import "strings"

// Separator delimits path segments.
const Separator = "/"

// Terms returns the segments of path in order, exactly as strings.Split
// yields them. "a//b/" gives "a", "", "b", "".
func Terms(path string) []string {
	return strings.Split(path, Separator)
}

// Each calls fn for every segment of path without allocating the segment
// slice.
func Each(path string, fn func(term string)) {
	for {
		i := strings.Index(path, Separator)
		if i < 0 {
			fn(path)
			return
		}
		fn(path[:i])
		path = path[i+len(Separator):]
	}
}
