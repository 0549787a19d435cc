package naming

import (
	"fmt"
	"strings"
)

// Language selects the script-specific top-level label of a domain.
type Language string

const (
	Hindi   Language = "hindi"
	Tamil   Language = "tamil"
	Telugu  Language = "telugu"
	Bengali Language = "bengali"
	Marathi Language = "marathi"
)

// DefaultTLD is used for languages outside the catalogue.
const DefaultTLD = "भारत"

var languages = []Language{Hindi, Tamil, Telugu, Bengali, Marathi}

type languageInfo struct {
	tld        string
	nativeName string
}

var catalogue = map[Language]languageInfo{
	Hindi:   {tld: "भारत", nativeName: "हिन्दी"},
	Tamil:   {tld: "இந்தியா", nativeName: "தமிழ்"},
	Telugu:  {tld: "భారత్", nativeName: "తెలుగు"},
	Bengali: {tld: "ভারত", nativeName: "বাংলা"},
	Marathi: {tld: "भारत", nativeName: "मराठी"},
}

func init() {
	if err := checkCatalogue(); err != nil {
		panic(err)
	}
}

// checkCatalogue fails when a declared language has no TLD or native name.
func checkCatalogue() error {
	for _, l := range languages {
		info, ok := catalogue[l]
		if !ok || info.tld == "" || info.nativeName == "" {
			return fmt.Errorf("naming: language %q missing from catalogue", l)
		}
	}
	if len(catalogue) != len(languages) {
		return fmt.Errorf("naming: catalogue has %d entries for %d languages", len(catalogue), len(languages))
	}
	return nil
}

// Languages returns the supported languages in display order.
func Languages() []Language {
	return append([]Language(nil), languages...)
}

// ParseLanguage matches s case-insensitively against the catalogue.
func ParseLanguage(s string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	_, ok := catalogue[l]
	return l, ok
}

// TLD returns the IDN top-level label for l, or DefaultTLD when l is unknown.
func (l Language) TLD() string {
	if info, ok := catalogue[l]; ok {
		return info.tld
	}
	return DefaultTLD
}

// NativeName returns the language's name in its own script.
func (l Language) NativeName() string {
	return catalogue[l].nativeName
}

func (l Language) Known() bool {
	_, ok := catalogue[l]
	return ok
}
