package runner

import "strings"

// noisePrefixes are interpreter diagnostics that add nothing to an error
// payload. Filtering is presentation only; the exit code still carries the
// failure signal.
var noisePrefixes = []string{
	"DeprecationWarning",
	"RuntimeWarning",
	"SyntaxWarning",
	"FutureWarning",
	"warning:",
	"WARNING:",
}

// FilterStderr drops known-noisy diagnostic lines before stderr is surfaced
// in an error payload.
func FilterStderr(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}

func isNoise(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
