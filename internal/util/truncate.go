package util

import "fmt"

// DefaultLogMaxLen bounds verbose log output. The full bodies are still
// available through the monitor's capture buffer and the archive.
const DefaultLogMaxLen = 1024

// TruncateLog shortens long strings for verbose logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a convenience wrapper for TruncateLog that accepts []byte
// and uses DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// TruncateBody caps a captured request/response body at maxLen bytes,
// marking the cut. Used by the monitor and the archive so stored bodies
// respect the configured byte budget.
func TruncateBody(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
