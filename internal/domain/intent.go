package domain

import "strings"

// Intent is the author-declared purpose of a journal entry.
type Intent string

const (
	IntentProcessing  Intent = "processing"
	IntentAgreeing    Intent = "agreeing"
	IntentChallenging Intent = "challenging"
	IntentSolution    Intent = "solution"
	IntentVenting     Intent = "venting"
	IntentAdvice      Intent = "advice"
	IntentReflecting  Intent = "reflecting"
)

var Intents = []Intent{
	IntentProcessing,
	IntentAgreeing,
	IntentChallenging,
	IntentSolution,
	IntentVenting,
	IntentAdvice,
	IntentReflecting,
}

func (i Intent) Known() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// ParseIntent normalizes s. Unknown values are returned as-is with ok=false
// so callers can still carry them through to the prompt.
func ParseIntent(s string) (Intent, bool) {
	intent := Intent(strings.ToLower(strings.TrimSpace(s)))
	return intent, intent.Known()
}
