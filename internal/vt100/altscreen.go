package vt100

// scanAltScreen scans chunk for CSI ? (1049|1047|47) (h|l) sequences that
// toggle alternate-screen mode, carrying a short lookbehind tail across
// calls so a sequence split across two PTY reads is still recognized.
// It returns the updated active flag and the new tail to retain.
func scanAltScreen(active bool, tail []byte, chunk []byte) (bool, []byte) {
	// Search over tail+chunk so a match starting in tail and finishing in
	// chunk is still found, but only report state changes whose terminating
	// byte falls within chunk (the tail's own matches were already applied
	// on the previous call).
	combined := append(append([]byte{}, tail...), chunk...)
	tailLen := len(tail)

	i := 0
	for i < len(combined) {
		if combined[i] != 0x1b {
			i++
			continue
		}
		end, entering, ok := matchAltSeq(combined[i:])
		if !ok {
			i++
			continue
		}
		matchEnd := i + end
		if matchEnd > tailLen {
			active = entering
		}
		i = matchEnd
	}

	const maxTail = 16
	if len(combined) > maxTail {
		combined = combined[len(combined)-maxTail:]
	}
	return active, combined
}

// matchAltSeq checks whether b starts with ESC [ ? (1049|1047|47) (h|l).
// Returns the length consumed and whether it was an "h" (entering) or "l"
// (leaving) form, and whether a match was found at all.
func matchAltSeq(b []byte) (length int, entering bool, ok bool) {
	const prefix = "\x1b[?"
	if len(b) < len(prefix) {
		return 0, false, false
	}
	for i := 0; i < len(prefix); i++ {
		if b[i] != prefix[i] {
			return 0, false, false
		}
	}
	rest := b[len(prefix):]
	for _, code := range []string{"1049", "1047", "47"} {
		if len(rest) < len(code)+1 {
			continue
		}
		if string(rest[:len(code)]) != code {
			continue
		}
		final := rest[len(code)]
		switch final {
		case 'h':
			return len(prefix) + len(code) + 1, true, true
		case 'l':
			return len(prefix) + len(code) + 1, false, true
		}
	}
	return 0, false, false
}
