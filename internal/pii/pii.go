// Package pii is a deterministic backstop for the model's redaction. It finds
// direct contact details and scrubs verbatim echoes of precise numbers and
// proper nouns from public artifacts.
package pii

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Kind string

const (
	KindEmail  Kind = "email"
	KindURL    Kind = "url"
	KindPhone  Kind = "phone"
	KindHandle Kind = "handle"
)

type Match struct {
	Kind  Kind
	Value string
}

var (
	emailPattern  = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	urlPattern    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]+`)
	phonePattern  = regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{3}\)|\b\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	handlePattern = regexp.MustCompile(`(^|[\s(])@([A-Za-z0-9_]{2,30})\b`)
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	wordPattern   = regexp.MustCompile(`[A-Za-z][A-Za-z'’\-]*[A-Za-z]`)
)

var placeholders = map[Kind]string{
	KindEmail:  "[email]",
	KindURL:    "[link]",
	KindPhone:  "[phone]",
	KindHandle: "[handle]",
}

// Capitalized words that carry no identifying signal on their own.
var commonCapitalized = map[string]bool{
	"I": true, "I'm": true, "I've": true, "I'd": true, "I'll": true, "I’m": true, "I’ve": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true, "Sunday": true,
	"January": true, "February": true, "March": true, "April": true, "May": true, "June": true, "July": true,
	"August": true, "September": true, "October": true, "November": true, "December": true,
	"CEO": true, "CTO": true, "CFO": true, "COO": true, "VP": true, "VC": true, "VCs": true, "AI": true,
	"MVP": true, "SaaS": true, "PM": true, "HR": true, "OK": true, "QA": true, "API": true, "B2B": true, "B2C": true,
}

// Detect returns direct contact details found in text.
func Detect(text string) []Match {
	var out []Match
	for _, m := range emailPattern.FindAllString(text, -1) {
		out = append(out, Match{Kind: KindEmail, Value: m})
	}
	stripped := emailPattern.ReplaceAllString(text, " ")
	for _, m := range urlPattern.FindAllString(stripped, -1) {
		out = append(out, Match{Kind: KindURL, Value: m})
	}
	stripped = urlPattern.ReplaceAllString(stripped, " ")
	for _, m := range phonePattern.FindAllString(stripped, -1) {
		out = append(out, Match{Kind: KindPhone, Value: strings.TrimSpace(m)})
	}
	for _, m := range handlePattern.FindAllStringSubmatch(stripped, -1) {
		out = append(out, Match{Kind: KindHandle, Value: "@" + m[2]})
	}
	return out
}

func ContainsContact(text string) bool {
	return len(Detect(text)) > 0
}

// Redact replaces contact details with placeholders.
func Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, placeholders[KindEmail])
	text = urlPattern.ReplaceAllString(text, placeholders[KindURL])
	text = phonePattern.ReplaceAllString(text, placeholders[KindPhone])
	text = handlePattern.ReplaceAllString(text, "${1}"+placeholders[KindHandle])
	return text
}

// Words that commonly open a sentence. A capitalized sentence start that is
// not one of these is treated as a name.
var sentenceOpeners = wordSet(`
	A An The This That These Those There Here It Its It's My Our Your Their His Her
	We You They He She Me Us Them Who What When Where Why How Which Whose Whoever Whatever
	And But Or So Yet Nor For Because Since Although Though While If Unless Until
	After Before Once As At By From In Into On Of Off Out Over Under Up Down To With Without
	About Around Through During Between Against Onto Toward Towards Across Behind Beyond
	Then Now Today Tonight Tomorrow Yesterday Last Next Every Each Some Any Many Most Much
	More Less Few All Both Either Neither No Not None Nothing Nobody Someone Something
	Everyone Everything Anyone Anything Somehow Also Just Only Even Still Already Again
	Always Never Sometimes Often Usually Maybe Perhaps Probably Honestly Basically Really
	Actually Anyway However Otherwise Meanwhile Finally Eventually Suddenly Lately Recently
	Instead Besides Plus Yes Yeah Okay Well Oh Hey Hi Hello Thanks Thank Please Sorry
	Is Are Was Were Be Been Being Am Do Does Did Have Has Had Can Could Will Would Should
	Shall Might Must Let Let's Don't Can't Won't Didn't Doesn't Isn't Wasn't Aren't Haven't
	Hasn't Wouldn't Couldn't Shouldn't We're We've They're You're It’s Don’t Can’t
	One Two Three Four Five First Second Third Another Other Such Same Like Unlike Sure
	Whether Whenever Wherever Lots Half Part Being Getting Trying Looking Feeling Thinking
`)

func wordSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

// ScrubEchoes removes precise numbers and proper nouns of original that
// reappear verbatim in public. It reports whether anything was replaced.
func ScrubEchoes(original, public string) (string, bool) {
	changed := false

	precise := make(map[string]bool)
	for _, n := range numberPattern.FindAllString(original, -1) {
		if isPrecise(n) {
			precise[n] = true
		}
	}
	if len(precise) > 0 {
		public = numberPattern.ReplaceAllStringFunc(public, func(n string) string {
			if !precise[n] {
				return n
			}
			changed = true
			return Approximate(n)
		})
	}

	for _, name := range ProperNouns(original) {
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if pattern.MatchString(public) {
			public = pattern.ReplaceAllString(public, "[name]")
			changed = true
		}
	}

	// An ordinary opener of original that public capitalizes mid-sentence
	// is being used as a name.
	openers := capitalizedOpeners(original)
	if len(openers) > 0 {
		var b strings.Builder
		last := 0
		for _, loc := range wordPattern.FindAllStringIndex(public, -1) {
			word := public[loc[0]:loc[1]]
			if !openers[word] || sentenceStart(public[:loc[0]]) {
				continue
			}
			b.WriteString(public[last:loc[0]])
			b.WriteString("[name]")
			last = loc[1]
			changed = true
		}
		if last > 0 {
			b.WriteString(public[last:])
			public = b.String()
		}
	}
	return public, changed
}

// ProperNouns returns the capitalized words of text that look like names: any
// capitalized word inside a sentence, and a capitalized sentence start that is
// neither a common opener nor used in lowercase elsewhere in text.
func ProperNouns(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		if !capitalized(word) {
			continue
		}
		if sentenceStart(text[:loc[0]]) && ordinaryOpener(word, text) {
			continue
		}
		if !seen[word] {
			seen[word] = true
			out = append(out, word)
		}
	}
	return out
}

// capitalizedOpeners returns the sentence-start words of text that ProperNouns
// treats as ordinary.
func capitalizedOpeners(text string) map[string]bool {
	nouns := make(map[string]bool)
	for _, n := range ProperNouns(text) {
		nouns[n] = true
	}
	out := make(map[string]bool)
	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		if capitalized(word) && !nouns[word] && sentenceStart(text[:loc[0]]) {
			out[word] = true
		}
	}
	return out
}

func capitalized(word string) bool {
	return unicode.IsUpper(rune(word[0])) && !commonCapitalized[word]
}

func ordinaryOpener(word, text string) bool {
	if sentenceOpeners[word] {
		return true
	}
	lower := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(word)) + `\b`)
	return lower.MatchString(text)
}

func sentenceStart(before string) bool {
	trimmed := strings.TrimRightFunc(before, unicode.IsSpace)
	if trimmed == "" {
		return true
	}
	if len(trimmed) < len(before) && strings.ContainsAny(before[len(trimmed):], "\n") {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?', ':', '"', '“', '”', '(', '-':
		return true
	}
	return false
}

// isPrecise reports whether n has two or more significant digits.
func isPrecise(n string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, n)
	digits = strings.Trim(digits, "0")
	return len(digits) >= 2
}

// Approximate rounds n to one significant figure, e.g. "23" -> "~20".
func Approximate(n string) string {
	v, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64)
	if err != nil || v <= 0 {
		return "some"
	}
	exp := int(math.Floor(math.Log10(v)))
	mag := math.Pow10(exp)
	rounded := math.Round(v/mag) * mag
	if rounded >= 10*mag {
		exp++
	}
	decimals := 0
	if exp < 0 {
		decimals = -exp
	}
	return "~" + strconv.FormatFloat(rounded, 'f', decimals, 64)
}
