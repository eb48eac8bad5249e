package svc

import "pasties/pkg/domain"

// ValidURL reports whether s is 1..250 bytes of [A-Za-z0-9_-].
func ValidURL(s string) bool {
	if len(s) == 0 || len(s) > domain.MaxURLLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func ValidContent(s string) bool {
	return len(s) > 0 && len(s) <= domain.MaxContentLength
}

func ValidPassword(s string) bool {
	return len(s) <= domain.MaxPasswordLength
}
