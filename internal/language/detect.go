// Package language decides whether a chat message should be answered in Urdu.
package language

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// minArabicScript is the number of Arabic-block runes above which a message is
// treated as Urdu regardless of what the detector says.
const minArabicScript = 5

// UrduDirective is appended to prompts for Urdu messages.
const UrduDirective = "جواب صرف اردو میں دیں۔ انگریزی استعمال نہ کریں۔"

// IsUrdu reports whether text is Urdu, or close enough (Hindi, Persian) that
// the answer should be in Urdu. Low confidence still counts; only a failed
// detection (no language, zero confidence) is treated as no detection.
func IsUrdu(text string) bool {
	if arabicScriptRunes(text) > minArabicScript {
		return true
	}
	if strings.TrimSpace(text) == "" {
		return false
	}

	info := whatlanggo.Detect(text)
	if info.Confidence <= 0 {
		return false
	}
	switch info.Lang {
	case whatlanggo.Urd, whatlanggo.Hin, whatlanggo.Pes:
		return true
	}
	return false
}

func arabicScriptRunes(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			n++
		}
	}
	return n
}
