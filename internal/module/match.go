package module

import "strings"

// Match compares a registration string with a pattern and returns a score
// usable for ranking. Zero means no match.
//
// Both strings are slash separated levels of dot separated keys, e.g.
// "sw/starford/imaging/icc.transform". The pattern is compared level by
// level; every key of a pattern level must appear in the same level of the
// registration. Key prefixes change the meaning of a key:
//
//	+key  required (same as no prefix)
//	_key  optional, adds to the score when present
//	-key  excluded, no match when present
//
// A pattern without slashes is compared with the last level only. Empty
// pattern levels match anything. The score is the number of matched keys,
// or 1 when everything matched without counting a key.
func Match(registration, pattern string) int {
	if registration == "" || pattern == "" {
		return 0
	}
	regLevels := strings.Split(registration, "/")
	patLevels := strings.Split(pattern, "/")

	if len(patLevels) == 1 {
		regLevels = regLevels[len(regLevels)-1:]
	}

	score := 0
	for i := 0; i < len(regLevels) && i < len(patLevels); i++ {
		if patLevels[i] == "" {
			continue
		}
		keys := strings.Split(regLevels[i], ".")
		n, ok := matchLevel(keys, strings.Split(patLevels[i], "."))
		if !ok {
			return 0
		}
		score += n
	}
	if score == 0 {
		return 1
	}
	return score
}

func matchLevel(keys, pattern []string) (int, bool) {
	n := 0
	for _, p := range pattern {
		if p == "" {
			continue
		}
		kind := byte('+')
		switch p[0] {
		case '+', '_', '-':
			kind = p[0]
			p = p[1:]
		}
		found := contains(keys, p)
		switch kind {
		case '-':
			if found {
				return 0, false
			}
		case '_':
			if found {
				n++
			}
		default:
			if !found {
				return 0, false
			}
			n++
		}
	}
	return n, true
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
