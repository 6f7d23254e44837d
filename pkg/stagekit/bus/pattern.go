package bus

import "strings"

// Global is the pattern matching every signal.
const Global = "*"

// Separator delimits signal name segments.
const Separator = ":"

// pattern is a parsed subscription pattern.
//
// Three forms exist:
//   - the global wildcard "*"
//   - a namespace wildcard "a:b:*", matching "a:b" and everything below it
//   - an exact name "a:b:c"
type pattern struct {
	raw      string
	segments []string
	global   bool
	prefix   bool
}

func parsePattern(raw string) pattern {
	if raw == Global {
		return pattern{raw: raw, global: true}
	}
	segs := strings.Split(raw, Separator)
	p := pattern{raw: raw, segments: segs}
	if segs[len(segs)-1] == Global {
		p.prefix = true
		p.segments = segs[:len(segs)-1]
	}
	return p
}

// matches reports whether the pattern matches a signal name split into
// segments. Exact patterns require segment-for-segment equality; namespace
// wildcards match when every prefix segment equals the corresponding signal
// segment.
func (p pattern) matches(signal []string) bool {
	if p.global {
		return true
	}
	if p.prefix {
		if len(signal) < len(p.segments) {
			return false
		}
		for i, seg := range p.segments {
			if signal[i] != seg {
				return false
			}
		}
		return true
	}
	if len(signal) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if signal[i] != seg {
			return false
		}
	}
	return true
}

func splitSignal(name string) []string {
	return strings.Split(name, Separator)
}
