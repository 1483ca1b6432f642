// Package signature implements the typed-name check applied to tally and
// final certifications. A signer types their name; the verifier compares it
// to the name on their account record.
//
// This is a usability control that catches a signer confirming under the
// wrong account. The authorization boundary is the authenticated actor.
package signature

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

var _ ports.SignatureVerifier = (*Verifier)(nil)

// Options controls how lenient the comparison is.
type Options struct {
	// AllowInitials lets any name token except the last be abbreviated to
	// its first letter, with or without a trailing period, so "J. Smith"
	// signs for "John Smith".
	AllowInitials bool `yaml:"allow_initials" json:"allow_initials"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{AllowInitials: true}
}

// Verifier compares typed signatures with account names.
//
// The expected name is the account's preferred name when set, else its
// full name. Comparison runs on normalized names: Unicode NFC, surrounding
// whitespace trimmed, inner whitespace collapsed to single spaces, and full
// Unicode case folding. The final name token must always match in full, so
// a misspelled surname is rejected even when the edit distance is small.
//
// The verifier is stateless and safe for concurrent use. A fresh
// cases.Caser is created per call because Caser values carry internal
// state and must not be shared between goroutines.
type Verifier struct {
	opts Options
}

// NewVerifier creates a Verifier with the given options.
func NewVerifier(opts Options) *Verifier {
	return &Verifier{opts: opts}
}

// Normalize returns the canonical comparison form of name.
func (v *Verifier) Normalize(name string) string {
	fields := strings.Fields(norm.NFC.String(name))
	return cases.Fold().String(strings.Join(fields, " "))
}

// Verify reports whether asserted matches the user's display name.
func (v *Verifier) Verify(user domain.User, asserted string) bool {
	return v.matches(v.Normalize(user.DisplayName()), v.Normalize(asserted))
}

// Explain returns both normalized names and their Levenshtein distance.
func (v *Verifier) Explain(user domain.User, asserted string) ports.SignatureExplanation {
	want := v.Normalize(user.DisplayName())
	got := v.Normalize(asserted)
	return ports.SignatureExplanation{
		Expected: want,
		Asserted: got,
		Distance: levenshtein.ComputeDistance(want, got),
		Match:    v.matches(want, got),
	}
}

// matches compares two normalized names.
func (v *Verifier) matches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	if want == got {
		return true
	}
	if !v.opts.AllowInitials {
		return false
	}

	wantTokens := strings.Split(want, " ")
	gotTokens := strings.Split(got, " ")
	if len(wantTokens) != len(gotTokens) {
		return false
	}

	last := len(wantTokens) - 1
	if wantTokens[last] != gotTokens[last] {
		return false
	}
	for i := 0; i < last; i++ {
		if !tokenMatches(wantTokens[i], gotTokens[i]) {
			return false
		}
	}
	return true
}

// tokenMatches reports whether got equals want or is want's initial.
func tokenMatches(want, got string) bool {
	if want == got {
		return true
	}
	initial := strings.TrimSuffix(got, ".")
	if utf8.RuneCountInString(initial) != 1 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(want)
	r, _ := utf8.DecodeRuneInString(initial)
	return first == r
}
