package sqlfn

import "strings"

// Tag blobs are pipe-delimited key=value strings, e.g.
// "creation_date=2009-04-09 14:18:58 +0200|severity=high". Neither '|' nor
// '=' can be escaped inside a value; that is an accepted format
// limitation.

// Tag returns the value of key in the blob, or "" when no segment has
// exactly that key.
func Tag(tags, key string) string {
	prefix := key + "="
	for _, segment := range strings.Split(tags, "|") {
		if strings.HasPrefix(segment, prefix) {
			return segment[len(prefix):]
		}
	}
	return ""
}

// CommonCVE reports whether any identifier in list a trim-equals any
// identifier in list b. Existence is all that matters, so the scan
// short-circuits on the first match.
func CommonCVE(a, b string) bool {
	bTokens := strings.Split(b, ",")
	for _, x := range strings.Split(a, ",") {
		x = strings.TrimSpace(x)
		for _, y := range bTokens {
			if x == strings.TrimSpace(y) {
				return true
			}
		}
	}
	return false
}
