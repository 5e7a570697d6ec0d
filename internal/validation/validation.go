// Package validation holds small, stateless validators shared by the
// storage and id-generation packages: label syntax, issue-prefix
// syntax, and the semantic-id type abbreviation table.
package validation

import (
	"fmt"
	"regexp"
)

// labelPattern is the syntax every label must match (§3 Label).
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_:-]+$`)

// ValidateLabel checks a label against the allowed character set.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label must not be empty")
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label %q: must match [A-Za-z0-9_:-]+", label)
	}
	return nil
}

// prefixPattern constrains configured issue prefixes to short lowercase
// alphanumeric tokens, matching the id shape "<prefix>-<hash-or-slug>".
var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9]{1,7}$`)

// ValidatePrefix checks a configured issue prefix for syntactic validity.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("invalid issue prefix %q: must be 2-8 lowercase alphanumeric characters starting with a letter", prefix)
	}
	return nil
}

// SemanticIDTypeAbbreviations maps each in-scope issue type to the short
// token idgen.SemanticIDGenerator embeds in a generated id.
var SemanticIDTypeAbbreviations = map[string]string{
	"task":     "tsk",
	"bug":      "bug",
	"feature":  "feat",
	"epic":     "epc",
	"docs":     "doc",
	"chore":    "chr",
	"question": "qst",
}

// SemanticIDAbbreviationToType is the reverse of SemanticIDTypeAbbreviations.
var SemanticIDAbbreviationToType = func() map[string]string {
	m := make(map[string]string, len(SemanticIDTypeAbbreviations))
	for typ, abbrev := range SemanticIDTypeAbbreviations {
		m[abbrev] = typ
	}
	return m
}()
