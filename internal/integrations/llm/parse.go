package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"findsanity/internal/domain"
)

// Validator is implemented by response types with invariants beyond their
// JSON shape.
type Validator interface {
	Validate() error
}

// extractJSON accepts an optional leading fence, a JSON body and an optional
// trailing fence. When the model wraps the object in chatter it falls back to
// the outermost {...} span.
func extractJSON(responseText string) (string, error) {
	s := strings.TrimSpace(responseText)
	if s == "" {
		return "", io.ErrUnexpectedEOF
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	if json.Valid([]byte(s)) {
		return s, nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	sub := s[start : end+1]
	if !json.Valid([]byte(sub)) {
		return "", fmt.Errorf("invalid JSON object in model output (len=%d)", len(sub))
	}
	return sub, nil
}

// decodeResponse fills out from the model text and runs its validator. The
// returned field names the offending JSON path when one is known.
func decodeResponse(responseText string, out any) (string, error) {
	body, err := extractJSON(responseText)
	if err != nil {
		return "", err
	}
	resetValue(out)
	if err := json.Unmarshal([]byte(body), out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return typeErr.Field, err
		}
		return "", err
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			var fieldErr *domain.FieldError
			if errors.As(err, &fieldErr) {
				return fieldErr.Field, err
			}
			return "", err
		}
	}
	return "", nil
}

func resetValue(out any) {
	v := reflect.ValueOf(out)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
}
