package services

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

type segmentKind int

const (
	segmentText segmentKind = iota
	segmentThinkStart
	segmentThink
	segmentThinkEnd
)

type segment struct {
	kind    segmentKind
	content string
}

// tagScanner incrementally partitions a token stream into visible text
// and reasoning text delimited by inline <think> markers. Marker
// matching is a case-insensitive substring search; a marker split
// across fragments is caught because any buffer suffix that could
// still begin a marker stays buffered until a later fragment resolves
// it. An unmatched close marker is never special-cased: the scanner
// only searches for it while inside a reasoning segment.
type tagScanner struct {
	inThink bool
	buffer  string
}

// Feed appends a fragment and returns the segments resolved so far, in
// order. A single fragment may carry several complete tag transitions.
func (t *tagScanner) Feed(fragment string) []segment {
	t.buffer += fragment

	var segs []segment
	for {
		if !t.inThink {
			idx := strings.Index(lowerASCII(t.buffer), thinkOpen)
			if idx < 0 {
				break
			}
			if pre := t.buffer[:idx]; strings.TrimSpace(pre) != "" {
				segs = append(segs, segment{kind: segmentText, content: pre})
			}
			t.buffer = t.buffer[idx+len(thinkOpen):]
			t.inThink = true
			segs = append(segs, segment{kind: segmentThinkStart})
			continue
		}

		idx := strings.Index(lowerASCII(t.buffer), thinkClose)
		if idx < 0 {
			break
		}
		if inner := t.buffer[:idx]; strings.TrimSpace(inner) != "" {
			segs = append(segs, segment{kind: segmentThink, content: inner})
		}
		t.buffer = t.buffer[idx+len(thinkClose):]
		t.inThink = false
		segs = append(segs, segment{kind: segmentThinkEnd})
	}

	marker := thinkOpen
	if t.inThink {
		marker = thinkClose
	}
	emit, held := splitMarkerPrefix(t.buffer, marker)

	if t.inThink {
		// Reasoning text streams eagerly, it is not held back for a
		// future close marker.
		if emit != "" {
			segs = append(segs, segment{kind: segmentThink, content: emit})
			t.buffer = held
		}
	} else if strings.TrimSpace(emit) != "" {
		segs = append(segs, segment{kind: segmentText, content: emit})
		t.buffer = held
	}

	return segs
}

// Finish drains whatever the partial-marker hold-back retained once the
// input ends, reported for the current state.
func (t *tagScanner) Finish() []segment {
	buffered := t.buffer
	t.buffer = ""

	if buffered == "" {
		return nil
	}
	if t.inThink {
		return []segment{{kind: segmentThink, content: buffered}}
	}
	if strings.TrimSpace(buffered) == "" {
		return nil
	}
	return []segment{{kind: segmentText, content: buffered}}
}

// splitMarkerPrefix splits s so that the longest suffix which is still
// a case-insensitive prefix of marker stays held.
func splitMarkerPrefix(s, marker string) (emit, held string) {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	lower := lowerASCII(s)
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, lower[len(lower)-n:]) {
			return s[:len(s)-n], s[len(s)-n:]
		}
	}
	return s, ""
}

// lowerASCII lowercases A-Z only, so byte offsets into the result are
// valid for the original string.
func lowerASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}

	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
