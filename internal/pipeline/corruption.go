package pipeline

import "strings"

// castMarkers are the type-cast failures the ERP emits when a stored
// description field has the wrong shape.
var castMarkers = []string{"castexception", "cannot be cast"}

// IsCorruption reports whether an upstream error body carries the known
// malformed-description signature. Such reads are transient and usually
// succeed on a second attempt.
func IsCorruption(body string) bool {
	b := strings.ToLower(body)
	if !strings.Contains(b, "description") {
		return false
	}
	for _, m := range castMarkers {
		if strings.Contains(b, m) {
			return true
		}
	}
	return false
}
