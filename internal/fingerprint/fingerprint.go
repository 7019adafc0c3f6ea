// Package fingerprint extracts the build fingerprint of a served page.
//
// A bundler writes the entry script as <prefix>-<hash>.js and changes the hash
// on every meaningful rebuild, so the hash of the first entry script in the
// document is a cheap proxy for "which build is this page running".
package fingerprint

import (
	"io"
	"regexp"
)

// Pattern is the extraction expression. It is kept within the subset shared
// by RE2 and ECMAScript so the generated client snippet can compile the very
// same source with Flags. One of the two capture groups holds the token,
// depending on the quote style.
const Pattern = `<script\b[^>]*?\bsrc\s*=\s*(?:"[^"]*-(\w+)\.js"|'[^']*-(\w+)\.js')`

// Flags are the ECMAScript flags that accompany Pattern.
const Flags = "i"

var scriptPattern = regexp.MustCompile(`(?i)` + Pattern)

// Fingerprint identifies a build artifact.
type Fingerprint string

// String returns the token.
func (f Fingerprint) String() string { return string(f) }

// IsZero reports whether no fingerprint is present.
func (f Fingerprint) IsZero() bool { return f == "" }

// Equal reports whether both fingerprints identify the same build.
func (f Fingerprint) Equal(other Fingerprint) bool { return f == other }

// Extract returns the token of the first matching script tag in document
// order. A document without one yields ("", false); that is the normal case
// for unbundled development pages.
func Extract(html string) (Fingerprint, bool) {
	m := scriptPattern.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return Fingerprint(m[1]), true
	}
	return Fingerprint(m[2]), true
}

// ExtractReader reads r fully and extracts from its contents. The returned
// error only reports read failures.
func ExtractReader(r io.Reader) (Fingerprint, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, err
	}
	fp, ok := Extract(string(data))
	return fp, ok, nil
}
