package tts

import (
	"fmt"
	"strings"

	"github.com/book-expert/voice-studio/internal/core"
)

// Language is a language code accepted by the synthesis service.
type Language string

// Supported languages.
const (
	LanguageEnglish    Language = "en"
	LanguageSpanish    Language = "es"
	LanguageFrench     Language = "fr"
	LanguageGerman     Language = "de"
	LanguageItalian    Language = "it"
	LanguagePortuguese Language = "pt"
	LanguagePolish     Language = "pl"
	LanguageTurkish    Language = "tr"
	LanguageRussian    Language = "ru"
	LanguageDutch      Language = "nl"
	LanguageCzech      Language = "cs"
	LanguageArabic     Language = "ar"
	LanguageChinese    Language = "zh-cn"
	LanguageJapanese   Language = "ja"
	LanguageHungarian  Language = "hu"
	LanguageKorean     Language = "ko"
	LanguageHindi      Language = "hi"
	LanguageUrdu       Language = "ur"
)

var supportedLanguages = []Language{
	LanguageEnglish, LanguageSpanish, LanguageFrench, LanguageGerman,
	LanguageItalian, LanguagePortuguese, LanguagePolish, LanguageTurkish,
	LanguageRussian, LanguageDutch, LanguageCzech, LanguageArabic,
	LanguageChinese, LanguageJapanese, LanguageHungarian, LanguageKorean,
	LanguageHindi, LanguageUrdu,
}

// Languages returns the supported language codes in service order.
func Languages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)

	return out
}

// Valid reports whether the language is supported.
func (l Language) Valid() bool {
	for _, supported := range supportedLanguages {
		if l == supported {
			return true
		}
	}

	return false
}

// ParseLanguage normalises a language code and checks it is supported.
func ParseLanguage(code string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(code)))
	if !lang.Valid() {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedLanguage, code)
	}

	return lang, nil
}

// Format is an output audio format.
type Format string

// Supported output formats.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// MIME types of the supported formats.
const (
	MimeTypeWAV = "audio/wav"
	MimeTypeMP3 = "audio/mpeg"
)

// Valid reports whether the format is supported.
func (f Format) Valid() bool {
	return f == FormatWAV || f == FormatMP3
}

// MimeType returns the MIME type the service answers with for this format.
func (f Format) MimeType() string {
	if f == FormatMP3 {
		return MimeTypeMP3
	}

	return MimeTypeWAV
}

// ParseFormat normalises a format name and checks it is supported.
func ParseFormat(name string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))
	if !format.Valid() {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, name)
	}

	return format, nil
}
