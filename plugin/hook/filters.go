package hook

import (
	"context"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// MaskWords returns a BeforeMessagePost handler replacing every
// case-insensitive occurrence of the given words with asterisks.
func MaskWords(words []string) HookFn {
	words = lo.Uniq(lo.FilterMap(words, func(w string, _ int) (string, bool) {
		w = strings.ToLower(strings.TrimSpace(w))
		return w, w != ""
	}))
	return func(_ context.Context, _ string, data any) (any, error) {
		d, ok := data.(*MessageDraft)
		if !ok || len(words) == 0 {
			return data, nil
		}
		d.Content = mask(d.Content, words)
		return d, nil
	}
}

// RejectBlank returns a BeforeMessagePost handler interrupting drafts that
// earlier filters reduced to nothing but masks and whitespace.
func RejectBlank() HookFn {
	return func(_ context.Context, _ string, data any) (any, error) {
		d, ok := data.(*MessageDraft)
		if !ok {
			return data, nil
		}
		if strings.TrimFunc(d.Content, func(r rune) bool { return r == '*' || unicode.IsSpace(r) }) == "" {
			return d, ErrInterrupt
		}
		return d, nil
	}
}

func mask(content string, words []string) string {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	if len(lower) != len(runes) {
		// Case folding changed the length; fall back to exact matching.
		lower = runes
	}
	for _, w := range words {
		wr := []rune(w)
		for i := 0; i+len(wr) <= len(lower); i++ {
			if string(lower[i:i+len(wr)]) == w {
				for j := i; j < i+len(wr); j++ {
					runes[j] = '*'
				}
				i += len(wr) - 1
			}
		}
	}
	return string(runes)
}
