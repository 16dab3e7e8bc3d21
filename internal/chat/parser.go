package chat

import "strings"

// ParseReply splits a raw model reply into ordered (target, native)
// sentence pairs using the native-language line-prefix convention.
//
// A line starting with nativePrefix is the native half of the preceding
// target line. A target line with no following prefixed line yields an
// empty native half. A prefixed line with no preceding unbound target
// yields an empty target half. Non-empty raw text never parses to
// nothing: the whole text degrades to a single pair.
//
// Pure function of its inputs.
func ParseReply(raw, nativePrefix string) []Translation {
	var pairs []Translation
	var pending string
	havePending := false

	flush := func() {
		if havePending {
			pairs = append(pairs, Translation{TargetText: pending})
			havePending = false
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if nativePrefix != "" && strings.HasPrefix(line, nativePrefix) {
			native := strings.TrimSpace(strings.TrimPrefix(line, nativePrefix))
			if havePending {
				pairs = append(pairs, Translation{TargetText: pending, NativeText: native})
				havePending = false
			} else {
				// Out-of-order output: native half with no target.
				pairs = append(pairs, Translation{NativeText: native})
			}
			continue
		}
		flush()
		pending = line
		havePending = true
	}
	flush()

	if len(pairs) == 0 {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			pairs = append(pairs, Translation{TargetText: trimmed})
		}
	}
	return pairs
}
