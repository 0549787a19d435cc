package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	dErrors "webkart/pkg/domain-errors"
)

// ErrEmptyLabel is returned (wrapped) when nothing label-worthy survives
// normalization.
var ErrEmptyLabel = dErrors.New(dErrors.CodeEmptyLabel, "business name has no letters or digits")

// Normalize turns a business name into a domain label. Letters and digits of
// every script are kept together with the combining marks attached to them;
// whitespace, punctuation, symbols and format characters are dropped. The
// result is NFC and case-folded.
func Normalize(name string) (string, error) {
	// cases.Caser is stateful, so one per call.
	folded := cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))

	var b strings.Builder
	b.Grow(len(folded))
	attached := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			attached = true
		case unicode.Is(unicode.M, r):
			if attached {
				b.WriteRune(r)
			}
		default:
			attached = false
		}
	}

	label := norm.NFC.String(b.String())
	if label == "" {
		return "", ErrEmptyLabel
	}
	return label, nil
}
