package companion

import (
	"slices"
	"strings"
)

// Voice is a prebuilt speech voice of the live model.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// DefaultVoice is used when no voice is configured.
const DefaultVoice = "Zephyr"

// DefaultLanguage is the language name used when none is configured.
const DefaultLanguage = "English"

var voices = []Voice{
	{ID: "Zephyr", Name: "Zephyr", Gender: "female"},
	{ID: "Puck", Name: "Puck", Gender: "male"},
	{ID: "Charon", Name: "Charon", Gender: "male"},
	{ID: "Kore", Name: "Kore", Gender: "female"},
	{ID: "Fenrir", Name: "Fenrir", Gender: "male"},
}

// Voices returns the selectable voices.
func Voices() []Voice {
	return slices.Clone(voices)
}

// ValidVoice reports whether id names a selectable voice.
func ValidVoice(id string) bool {
	return slices.ContainsFunc(voices, func(v Voice) bool { return v.ID == id })
}

// languageCodes maps lower-cased language names to BCP-47 codes accepted by
// the live speech config.
var languageCodes = map[string]string{
	"english":    "en-US",
	"german":     "de-DE",
	"deutsch":    "de-DE",
	"spanish":    "es-US",
	"french":     "fr-FR",
	"hindi":      "hi-IN",
	"malayalam":  "ml-IN",
	"tamil":      "ta-IN",
	"telugu":     "te-IN",
	"kannada":    "kn-IN",
	"marathi":    "mr-IN",
	"bengali":    "bn-IN",
	"gujarati":   "gu-IN",
	"italian":    "it-IT",
	"portuguese": "pt-BR",
	"dutch":      "nl-NL",
	"polish":     "pl-PL",
	"russian":    "ru-RU",
	"japanese":   "ja-JP",
	"korean":     "ko-KR",
	"arabic":     "ar-XA",
	"turkish":    "tr-TR",
	"thai":       "th-TH",
	"vietnamese": "vi-VN",
	"indonesian": "id-ID",
}

// LanguageCode maps a free-text language name such as "English" to a BCP-47
// code. A value that already looks like a code (e.g. "de-DE") is returned as
// is. ok is false when the name is not known.
func LanguageCode(name string) (code string, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if c, found := languageCodes[strings.ToLower(name)]; found {
		return c, true
	}
	if len(name) == 5 && name[2] == '-' {
		return name, true
	}
	return "", false
}

// Languages lists the known language names, capitalised and sorted.
func Languages() []string {
	out := make([]string, 0, len(languageCodes))
	for name := range languageCodes {
		out = append(out, strings.ToUpper(name[:1])+name[1:])
	}
	slices.Sort(out)
	return out
}
