// Package language validates and normalizes transcription language hints.
package language

import (
	"fmt"
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language represents a supported transcription language
type Language struct {
	Code       string // ISO 639-1 code (e.g., "en", "es", "zh")
	Name       string // English name (e.g., "English", "Spanish")
	NativeName string // Native name (e.g., "English", "Espanol", "中文")
}

// Auto represents auto-detection - used when user doesn't specify a language
var Auto = Language{Code: "", Name: "Auto-detect", NativeName: ""}

// languages is the master list of supported languages
// derived from OpenAI Whisper's 57 supported languages
var languages = []Language{
	{Code: "af", Name: "Afrikaans", NativeName: "Afrikaans"},
	{Code: "ar", Name: "Arabic", NativeName: "العربية"},
	{Code: "hy", Name: "Armenian", NativeName: "Հայերեն"},
	{Code: "az", Name: "Azerbaijani", NativeName: "Azərbaycan"},
	{Code: "be", Name: "Belarusian", NativeName: "Беларуская"},
	{Code: "bs", Name: "Bosnian", NativeName: "Bosanski"},
	{Code: "bg", Name: "Bulgarian", NativeName: "Български"},
	{Code: "ca", Name: "Catalan", NativeName: "Català"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
	{Code: "hr", Name: "Croatian", NativeName: "Hrvatski"},
	{Code: "cs", Name: "Czech", NativeName: "Čeština"},
	{Code: "da", Name: "Danish", NativeName: "Dansk"},
	{Code: "nl", Name: "Dutch", NativeName: "Nederlands"},
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "et", Name: "Estonian", NativeName: "Eesti"},
	{Code: "fi", Name: "Finnish", NativeName: "Suomi"},
	{Code: "fr", Name: "French", NativeName: "Français"},
	{Code: "gl", Name: "Galician", NativeName: "Galego"},
	{Code: "de", Name: "German", NativeName: "Deutsch"},
	{Code: "el", Name: "Greek", NativeName: "Ελληνικά"},
	{Code: "he", Name: "Hebrew", NativeName: "עברית"},
	{Code: "hi", Name: "Hindi", NativeName: "हिन्दी"},
	{Code: "hu", Name: "Hungarian", NativeName: "Magyar"},
	{Code: "is", Name: "Icelandic", NativeName: "Íslenska"},
	{Code: "id", Name: "Indonesian", NativeName: "Bahasa Indonesia"},
	{Code: "it", Name: "Italian", NativeName: "Italiano"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語"},
	{Code: "kn", Name: "Kannada", NativeName: "ಕನ್ನಡ"},
	{Code: "kk", Name: "Kazakh", NativeName: "Қазақ"},
	{Code: "ko", Name: "Korean", NativeName: "한국어"},
	{Code: "lv", Name: "Latvian", NativeName: "Latviešu"},
	{Code: "lt", Name: "Lithuanian", NativeName: "Lietuvių"},
	{Code: "mk", Name: "Macedonian", NativeName: "Македонски"},
	{Code: "ms", Name: "Malay", NativeName: "Bahasa Melayu"},
	{Code: "mr", Name: "Marathi", NativeName: "मराठी"},
	{Code: "mi", Name: "Maori", NativeName: "Māori"},
	{Code: "ne", Name: "Nepali", NativeName: "नेपाली"},
	{Code: "no", Name: "Norwegian", NativeName: "Norsk"},
	{Code: "fa", Name: "Persian", NativeName: "فارسی"},
	{Code: "pl", Name: "Polish", NativeName: "Polski"},
	{Code: "pt", Name: "Portuguese", NativeName: "Português"},
	{Code: "ro", Name: "Romanian", NativeName: "Română"},
	{Code: "ru", Name: "Russian", NativeName: "Русский"},
	{Code: "sr", Name: "Serbian", NativeName: "Српски"},
	{Code: "sk", Name: "Slovak", NativeName: "Slovenčina"},
	{Code: "sl", Name: "Slovenian", NativeName: "Slovenščina"},
	{Code: "es", Name: "Spanish", NativeName: "Español"},
	{Code: "sw", Name: "Swahili", NativeName: "Kiswahili"},
	{Code: "sv", Name: "Swedish", NativeName: "Svenska"},
	{Code: "tl", Name: "Tagalog", NativeName: "Tagalog"},
	{Code: "ta", Name: "Tamil", NativeName: "தமிழ்"},
	{Code: "th", Name: "Thai", NativeName: "ไทย"},
	{Code: "tr", Name: "Turkish", NativeName: "Türkçe"},
	{Code: "uk", Name: "Ukrainian", NativeName: "Українська"},
	{Code: "ur", Name: "Urdu", NativeName: "اردو"},
	{Code: "vi", Name: "Vietnamese", NativeName: "Tiếng Việt"},
	{Code: "cy", Name: "Welsh", NativeName: "Cymraeg"},
}

// codeIndex maps language codes to their Language structs for fast lookup
var codeIndex map[string]Language

func init() {
	codeIndex = make(map[string]Language, len(languages)+1)
	codeIndex[""] = Auto // auto-detect is valid
	for _, lang := range languages {
		codeIndex[lang.Code] = lang
	}
}

// FromCode returns the Language for the given code.
// Returns Auto if code is not found.
func FromCode(code string) Language {
	if lang, ok := codeIndex[code]; ok {
		return lang
	}
	return Auto
}

// List returns all supported languages (excluding Auto)
func List() []Language {
	result := make([]Language, len(languages))
	copy(result, languages)
	return result
}

// Codes returns all language codes (excluding empty string for auto)
func Codes() []string {
	codes := make([]string, len(languages))
	for i, lang := range languages {
		codes[i] = lang.Code
	}
	return codes
}

// IsValidCode returns true if the code is recognized (including empty for auto)
func IsValidCode(code string) bool {
	_, ok := codeIndex[code]
	return ok
}

// Hint is a parsed language hint. The zero value means auto-detect.
type Hint struct {
	tag  xlanguage.Tag
	auto bool
}

// AutoHint requests language detection.
var AutoHint = Hint{auto: true}

// ParseHint parses a BCP 47 or ISO 639-1 hint. Empty and "auto" select
// auto-detection; underscores are accepted as separators.
func ParseHint(s string) (Hint, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return AutoHint, nil
	}

	tag, err := xlanguage.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return Hint{}, fmt.Errorf("unknown language %q: %w", s, err)
	}
	if _, conf := tag.Base(); conf == xlanguage.No {
		return Hint{}, fmt.Errorf("unknown language %q", s)
	}
	return Hint{tag: tag}, nil
}

// IsAuto reports whether the hint requests detection.
func (h Hint) IsAuto() bool {
	return h.auto || h.tag == xlanguage.Und
}

// Whisper returns the ISO 639-1 code whisper models expect, or "" for auto.
func (h Hint) Whisper() string {
	if h.IsAuto() {
		return ""
	}
	base, _ := h.tag.Base()
	return base.String()
}

// BCP47 returns the full tag (e.g. "en-US"), or "" for auto.
func (h Hint) BCP47() string {
	if h.IsAuto() {
		return ""
	}
	return h.tag.String()
}

// SupportedByWhisper reports whether whisper models know the hint's language.
// Auto is always supported.
func (h Hint) SupportedByWhisper() bool {
	return h.IsAuto() || IsValidCode(h.Whisper())
}

// Label returns a human-readable label for a language code.
// Example: "es" -> "Spanish (es)", "en-US" -> "American English (en-US)".
func Label(code string) string {
	if code == "" || strings.EqualFold(code, "auto") {
		return Auto.Name
	}

	tag, err := xlanguage.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return fmt.Sprintf("language '%s'", code)
	}

	name := display.English.Tags().Name(tag)
	if name == "" || strings.EqualFold(name, code) {
		return fmt.Sprintf("language '%s'", code)
	}
	return fmt.Sprintf("%s (%s)", name, code)
}
