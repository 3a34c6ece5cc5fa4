package registry

import "strings"

// SelectorSeparator joins an adapter selector to a database name.
const SelectorSeparator = "://"

// Key returns the stored key for a database: selector + "://" + name when a
// selector was supplied at creation time, otherwise the bare name.
func Key(name, selector string) string {
	if selector == "" {
		return name
	}
	return selector + SelectorSeparator + name
}

// SplitKey reverses Key. A key whose prefix is not a bare selector token
// (for example a URL path segment) is returned whole as the name.
func SplitKey(key string) (name, selector string) {
	i := strings.Index(key, SelectorSeparator)
	if i <= 0 || !isSelector(key[:i]) {
		return key, ""
	}
	return key[i+len(SelectorSeparator):], key[:i]
}

func isSelector(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '+', r == '.':
		default:
			return false
		}
	}
	return s != ""
}
