package tgui

// Ellipsis is appended by Excerpt when it cuts text.
const Ellipsis = "..."

// TruncRunes returns s truncated to at most n runes, followed by marker when
// it was cut. The marker is not counted against n.
func TruncRunes(s string, n int, marker string) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + marker
		}
		count++
	}
	return s
}

// Excerpt truncates to n runes with Ellipsis.
func Excerpt(s string, n int) string { return TruncRunes(s, n, Ellipsis) }
