// Package stream turns arbitrarily split process or network output into
// text fragments. Nothing here assumes chunk boundaries line up with
// message boundaries.
package stream

import (
	"regexp"
	"strings"
)

// Fragment is one piece of a chunk. Key is empty for keyless values.
type Fragment struct {
	Key   string
	Value string
}

var keyedLine = regexp.MustCompile(`^([^\s:]+):(.*)$`)

// Split breaks raw text into ordered fragments.
//
// Text that begins with '{' is returned untouched as a single keyless
// fragment; callers should hand it to ReadJSON. Otherwise each non-blank
// line becomes a fragment, keyed when it looks like "key: value" (the
// SSE convention, e.g. "data: {...}").
func Split(text string) []Fragment {
	if strings.HasPrefix(text, "{") {
		return []Fragment{{Value: text}}
	}

	var frags []Fragment
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := keyedLine.FindStringSubmatch(line); m != nil {
			frags = append(frags, Fragment{Key: m[1], Value: strings.TrimSpace(m[2])})
			continue
		}
		frags = append(frags, Fragment{Value: strings.TrimSpace(line)})
	}
	return frags
}
