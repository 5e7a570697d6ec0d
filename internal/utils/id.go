package utils

import "strings"

// isAllDigits reports whether s is non-empty and consists only of decimal
// digits (legacy sequential ids).
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isLikelyHash reports whether suffix looks like a base36 content-hash id
// segment (§2 identifier utilities) rather than an English word. Hash
// lengths in use range 3-8 chars. A 3-char suffix is accepted whether or
// not it contains a digit, so 3-letter English words are accepted as hashes
// too; 4+ char suffixes must contain at least one digit, since an
// all-letter 4+ char string is far more likely to be a real word (a
// multi-part prefix segment, or a semantic-id slug fragment) than a hash.
func isLikelyHash(suffix string) bool {
	if len(suffix) < 3 || len(suffix) > 8 {
		return false
	}
	hasDigit := false
	for _, c := range suffix {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	if len(suffix) == 3 {
		return true
	}
	return hasDigit
}

// ExtractIssuePrefix recovers the configured project prefix from an issue
// id, by inspecting the segment after the last hyphen: if it looks like a
// generated id (all digits, or a base36 hash per isLikelyHash), the prefix
// is everything before that hyphen — supporting multi-hyphen prefixes like
// "hacker-news-ko4" → "hacker-news". Otherwise the suffix is treated as a
// non-generated, word-like id and the prefix is just the first segment, so
// "vc-baseline-test" → "vc" rather than misreading "baseline" as part of
// the prefix.
func ExtractIssuePrefix(issueID string) string {
	lastHyphen := strings.LastIndex(issueID, "-")
	if lastHyphen == -1 {
		return issueID
	}
	lastSegment := issueID[lastHyphen+1:]
	if lastSegment == "" || isAllDigits(lastSegment) || isLikelyHash(lastSegment) {
		return issueID[:lastHyphen]
	}
	firstHyphen := strings.Index(issueID, "-")
	return issueID[:firstHyphen]
}
