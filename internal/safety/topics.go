package safety

import (
	"strings"
	"unicode"
)

// NormalizeTopics lowercases and hyphenates topics, dropping blanks and
// duplicates while keeping the original order.
func NormalizeTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		t := normalizeTopic(topic)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func normalizeTopic(topic string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(topic)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == '_' || r == '/' || unicode.IsSpace(r):
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// topicKey folds hyphenation and a plural "s" so near-duplicates compare equal.
func topicKey(topic string) string {
	key := strings.ReplaceAll(normalizeTopic(topic), "-", "")
	if len(key) > 3 {
		key = strings.TrimSuffix(key, "s")
	}
	return key
}

// ReuseHistorical maps each topic onto the author's existing topic when the
// two differ only in case, spacing, hyphenation or a plural "s".
func ReuseHistorical(topics, historical []string) []string {
	if len(historical) == 0 {
		return NormalizeTopics(topics)
	}
	known := make(map[string]string, len(historical))
	for _, h := range historical {
		k := topicKey(h)
		if _, ok := known[k]; !ok && k != "" {
			known[k] = h
		}
	}
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		t := normalizeTopic(topic)
		if t == "" {
			continue
		}
		if existing, ok := known[topicKey(t)]; ok {
			t = existing
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
