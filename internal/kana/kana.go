// Package kana converts between romaji, hiragana and katakana.
package kana

import (
	"strings"
	"unicode"
)

// romajiTable maps romaji sequences to hiragana.
var romajiTable = map[string]string{
	"a": "あ", "i": "い", "u": "う", "e": "え", "o": "お",
	"ka": "か", "ki": "き", "ku": "く", "ke": "け", "ko": "こ",
	"ga": "が", "gi": "ぎ", "gu": "ぐ", "ge": "げ", "go": "ご",
	"sa": "さ", "si": "し", "shi": "し", "su": "す", "se": "せ", "so": "そ",
	"za": "ざ", "zi": "じ", "ji": "じ", "zu": "ず", "ze": "ぜ", "zo": "ぞ",
	"ta": "た", "ti": "ち", "chi": "ち", "tu": "つ", "tsu": "つ", "te": "て", "to": "と",
	"da": "だ", "di": "ぢ", "du": "づ", "de": "で", "do": "ど",
	"na": "な", "ni": "に", "nu": "ぬ", "ne": "ね", "no": "の",
	"ha": "は", "hi": "ひ", "hu": "ふ", "fu": "ふ", "he": "へ", "ho": "ほ",
	"ba": "ば", "bi": "び", "bu": "ぶ", "be": "べ", "bo": "ぼ",
	"pa": "ぱ", "pi": "ぴ", "pu": "ぷ", "pe": "ぺ", "po": "ぽ",
	"ma": "ま", "mi": "み", "mu": "む", "me": "め", "mo": "も",
	"ya": "や", "yu": "ゆ", "yo": "よ",
	"ra": "ら", "ri": "り", "ru": "る", "re": "れ", "ro": "ろ",
	"wa": "わ", "wi": "うぃ", "we": "うぇ", "wo": "を",
	"nn": "ん", "n'": "ん", "xn": "ん",
	"kya": "きゃ", "kyu": "きゅ", "kyo": "きょ",
	"gya": "ぎゃ", "gyu": "ぎゅ", "gyo": "ぎょ",
	"sya": "しゃ", "syu": "しゅ", "syo": "しょ", "sha": "しゃ", "shu": "しゅ", "she": "しぇ", "sho": "しょ",
	"ja": "じゃ", "ju": "じゅ", "je": "じぇ", "jo": "じょ", "zya": "じゃ", "zyu": "じゅ", "zyo": "じょ",
	"tya": "ちゃ", "tyu": "ちゅ", "tyo": "ちょ", "cha": "ちゃ", "chu": "ちゅ", "che": "ちぇ", "cho": "ちょ",
	"dya": "ぢゃ", "dyu": "ぢゅ", "dyo": "ぢょ",
	"nya": "にゃ", "nyu": "にゅ", "nyo": "にょ",
	"hya": "ひゃ", "hyu": "ひゅ", "hyo": "ひょ",
	"bya": "びゃ", "byu": "びゅ", "byo": "びょ",
	"pya": "ぴゃ", "pyu": "ぴゅ", "pyo": "ぴょ",
	"mya": "みゃ", "myu": "みゅ", "myo": "みょ",
	"rya": "りゃ", "ryu": "りゅ", "ryo": "りょ",
	"fa": "ふぁ", "fi": "ふぃ", "fe": "ふぇ", "fo": "ふぉ",
	"thi": "てぃ", "dhi": "でぃ", "twu": "とぅ", "dwu": "どぅ",
	"va": "ゔぁ", "vi": "ゔぃ", "vu": "ゔ", "ve": "ゔぇ", "vo": "ゔぉ",
	"xa": "ぁ", "xi": "ぃ", "xu": "ぅ", "xe": "ぇ", "xo": "ぉ",
	"la": "ぁ", "li": "ぃ", "lu": "ぅ", "le": "ぇ", "lo": "ぉ",
	"xya": "ゃ", "xyu": "ゅ", "xyo": "ょ", "lya": "ゃ", "lyu": "ゅ", "lyo": "ょ",
	"xtu": "っ", "ltu": "っ", "xtsu": "っ", "xwa": "ゎ",
	"-": "ー", ",": "、", ".": "。", "[": "「", "]": "」", "/": "・", "~": "〜",
}

// prefixes holds every proper prefix of a romajiTable key.
var prefixes = func() map[string]bool {
	p := make(map[string]bool)
	for key := range romajiTable {
		for i := 1; i < len(key); i++ {
			p[key[:i]] = true
		}
	}
	return p
}()

func isVowel(b byte) bool {
	return strings.IndexByte("aiueo", b) >= 0
}

func isConsonant(b byte) bool {
	return b >= 'a' && b <= 'z' && !isVowel(b)
}

// Composer converts romaji to hiragana one key at a time. Keys that cannot
// yet be resolved stay pending.
type Composer struct {
	pending string
}

// Pending returns the unresolved romaji.
func (c *Composer) Pending() string {
	return c.pending
}

// Reset drops any pending romaji.
func (c *Composer) Reset() {
	c.pending = ""
}

// Backspace removes the last pending romaji character. It reports false when
// nothing was pending.
func (c *Composer) Backspace() bool {
	if c.pending == "" {
		return false
	}
	c.pending = c.pending[:len(c.pending)-1]
	return true
}

// Feed adds one key and returns the kana that became final.
func (c *Composer) Feed(r rune) string {
	if r > unicode.MaxASCII {
		out := c.Flush()
		return out + string(r)
	}
	s := c.pending + strings.ToLower(string(r))
	var out strings.Builder
	for s != "" {
		if prefixes[s] {
			break
		}
		if kana, ok := romajiTable[s]; ok {
			out.WriteString(kana)
			s = ""
			break
		}
		if len(s) >= 2 {
			switch {
			case s[0] == s[1] && isConsonant(s[0]) && s[0] != 'n':
				out.WriteString("っ")
				s = s[1:]
				continue
			case s[0] == 'n' && !isVowel(s[1]) && s[1] != 'y':
				out.WriteString("ん")
				s = s[1:]
				continue
			}
		}
		// Longest resolvable head, then retry the tail.
		resolved := false
		for i := len(s) - 1; i > 0; i-- {
			if kana, ok := romajiTable[s[:i]]; ok {
				out.WriteString(kana)
				s = s[i:]
				resolved = true
				break
			}
		}
		if !resolved {
			out.WriteByte(s[0])
			s = s[1:]
		}
	}
	c.pending = s
	return out.String()
}

// Flush resolves whatever is pending: a lone "n" becomes ん, anything else
// is emitted verbatim.
func (c *Composer) Flush() string {
	p := c.pending
	c.pending = ""
	if p == "" {
		return ""
	}
	if p == "n" {
		return "ん"
	}
	if kana, ok := romajiTable[p]; ok {
		return kana
	}
	return p
}

// RomajiToHiragana converts a complete romaji string.
func RomajiToHiragana(s string) string {
	var c Composer
	var out strings.Builder
	for _, r := range s {
		out.WriteString(c.Feed(r))
	}
	out.WriteString(c.Flush())
	return out.String()
}

// reverseTable is the canonical romaji spelling for each hiragana unit.
var reverseTable = map[string]string{
	"あ": "a", "い": "i", "う": "u", "え": "e", "お": "o",
	"か": "ka", "き": "ki", "く": "ku", "け": "ke", "こ": "ko",
	"が": "ga", "ぎ": "gi", "ぐ": "gu", "げ": "ge", "ご": "go",
	"さ": "sa", "し": "si", "す": "su", "せ": "se", "そ": "so",
	"ざ": "za", "じ": "zi", "ず": "zu", "ぜ": "ze", "ぞ": "zo",
	"た": "ta", "ち": "ti", "つ": "tu", "て": "te", "と": "to",
	"だ": "da", "ぢ": "di", "づ": "du", "で": "de", "ど": "do",
	"な": "na", "に": "ni", "ぬ": "nu", "ね": "ne", "の": "no",
	"は": "ha", "ひ": "hi", "ふ": "hu", "へ": "he", "ほ": "ho",
	"ば": "ba", "び": "bi", "ぶ": "bu", "べ": "be", "ぼ": "bo",
	"ぱ": "pa", "ぴ": "pi", "ぷ": "pu", "ぺ": "pe", "ぽ": "po",
	"ま": "ma", "み": "mi", "む": "mu", "め": "me", "も": "mo",
	"や": "ya", "ゆ": "yu", "よ": "yo",
	"ら": "ra", "り": "ri", "る": "ru", "れ": "re", "ろ": "ro",
	"わ": "wa", "を": "wo", "ん": "nn", "ゔ": "vu",
	"ぁ": "xa", "ぃ": "xi", "ぅ": "xu", "ぇ": "xe", "ぉ": "xo",
	"ゃ": "xya", "ゅ": "xyu", "ょ": "xyo", "ゎ": "xwa", "っ": "xtu",
	"きゃ": "kya", "きゅ": "kyu", "きょ": "kyo",
	"ぎゃ": "gya", "ぎゅ": "gyu", "ぎょ": "gyo",
	"しゃ": "sya", "しゅ": "syu", "しょ": "syo", "しぇ": "she",
	"じゃ": "zya", "じゅ": "zyu", "じょ": "zyo", "じぇ": "je",
	"ちゃ": "tya", "ちゅ": "tyu", "ちょ": "tyo", "ちぇ": "che",
	"ぢゃ": "dya", "ぢゅ": "dyu", "ぢょ": "dyo",
	"にゃ": "nya", "にゅ": "nyu", "にょ": "nyo",
	"ひゃ": "hya", "ひゅ": "hyu", "ひょ": "hyo",
	"びゃ": "bya", "びゅ": "byu", "びょ": "byo",
	"ぴゃ": "pya", "ぴゅ": "pyu", "ぴょ": "pyo",
	"みゃ": "mya", "みゅ": "myu", "みょ": "myo",
	"りゃ": "rya", "りゅ": "ryu", "りょ": "ryo",
	"ふぁ": "fa", "ふぃ": "fi", "ふぇ": "fe", "ふぉ": "fo",
	"てぃ": "thi", "でぃ": "dhi", "うぃ": "wi", "うぇ": "we",
	"ー": "-",
}

// HiraganaToRomaji spells hiragana in romaji that RomajiToHiragana maps
// back to the same text. Runes that are not hiragana pass through.
func HiraganaToRomaji(s string) string {
	runes := []rune(s)
	var out strings.Builder
	for i := 0; i < len(runes); {
		if runes[i] == 'っ' && i+1 < len(runes) {
			if next, n := lookupReverse(runes[i+1:]); n > 0 && isConsonant(next[0]) && next[0] != 'n' {
				out.WriteByte(next[0])
				i++
				continue
			}
		}
		if romaji, n := lookupReverse(runes[i:]); n > 0 {
			out.WriteString(romaji)
			i += n
			continue
		}
		out.WriteRune(runes[i])
		i++
	}
	return out.String()
}

func lookupReverse(runes []rune) (string, int) {
	if len(runes) >= 2 {
		if romaji, ok := reverseTable[string(runes[:2])]; ok {
			return romaji, 2
		}
	}
	if len(runes) >= 1 {
		if romaji, ok := reverseTable[string(runes[:1])]; ok {
			return romaji, 1
		}
	}
	return "", 0
}

// ToKatakana shifts hiragana into the katakana block.
func ToKatakana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ぁ' && r <= 'ゖ' {
			return r + 0x60
		}
		return r
	}, s)
}

// ToHiragana shifts katakana into the hiragana block.
func ToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ァ' && r <= 'ヶ' {
			return r - 0x60
		}
		return r
	}, s)
}
