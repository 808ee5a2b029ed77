package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/loomlabs/loom/pkg/schema"
)

// LengthCheck rejects input shorter than min or longer than max runes. A max
// of zero disables the upper bound.
func LengthCheck(min, max int) Guardrail {
	return New("length_check", func(_ context.Context, input string) (Result, error) {
		n := len([]rune(input))
		if n < min {
			return Reject(fmt.Sprintf("input length %d below minimum %d", n, min)), nil
		}
		if max > 0 && n > max {
			return Reject(fmt.Sprintf("input length %d above maximum %d", n, max)), nil
		}
		return Pass(), nil
	})
}

// RegexValidator compiles pattern once and rejects input that fails the
// expectation. mustMatch true requires a match; false forbids one.
func RegexValidator(pattern string, mustMatch bool) (Guardrail, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid guardrail pattern %q: %w", pattern, err)
	}
	return New("regex_validator", func(_ context.Context, input string) (Result, error) {
		matched := re.MatchString(input)
		if mustMatch && !matched {
			return Reject(fmt.Sprintf("input does not match required pattern %s", pattern)), nil
		}
		if !mustMatch && matched {
			return Reject(fmt.Sprintf("input matches forbidden pattern %s", pattern)), nil
		}
		return Pass(), nil
	}), nil
}

// JSONValidator rejects input that is not a JSON document. With a schema it
// additionally validates the decoded value.
func JSONValidator(s *schema.Schema) Guardrail {
	return New("json_validator", func(_ context.Context, input string) (Result, error) {
		var value any
		if err := json.Unmarshal([]byte(input), &value); err != nil {
			return Reject("input is not valid JSON: " + err.Error()), nil
		}
		if s != nil {
			if err := s.Validate(value); err != nil {
				return Reject("JSON does not conform to schema: " + err.Error()), nil
			}
		}
		return Pass(), nil
	})
}

// ProfanityFilter rejects input containing any of the given words,
// case-insensitively on word boundaries.
func ProfanityFilter(words ...string) Guardrail {
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return New("profanity_filter", func(_ context.Context, input string) (Result, error) {
		for i, re := range patterns {
			if re.MatchString(input) {
				return Reject(fmt.Sprintf("input contains blocked term %q", strings.ToLower(words[i]))), nil
			}
		}
		return Pass(), nil
	})
}

// Redactor replaces matches of pattern with replacement, transforming rather
// than rejecting.
func Redactor(pattern, replacement string) (Guardrail, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid guardrail pattern %q: %w", pattern, err)
	}
	return New("redactor", func(_ context.Context, input string) (Result, error) {
		out := re.ReplaceAllString(input, replacement)
		if out == input {
			return Pass(), nil
		}
		return Transform(out), nil
	}), nil
}
