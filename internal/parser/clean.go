package parser

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	fencePattern    = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
)

// stripFences removes markdown code fences around the payload.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		// unterminated fence, usually a truncated response
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		return strings.TrimSpace(s)
	}
	return s
}

// decodeFirst finds the JSON payload inside prose. Starting at each '[' or
// '{' in turn, it decodes the first complete value and ignores whatever
// follows. A value holding entry objects wins; otherwise the first value
// decoded is returned. Openers inside a region that failed to decode are
// not retried, so a broken array never yields its inner objects. A
// truncated value stops the search.
func decodeFirst(s string) (any, error) {
	var (
		fallback any
		found    bool
		lastErr  error
	)

	next := 0
	for next < len(s) {
		rel := strings.IndexAny(s[next:], "[{")
		if rel < 0 {
			break
		}
		start := next + rel

		v, end, err := decodeAt(s[start:])
		if err == nil {
			if looksLikeEntries(v) {
				return v, nil
			}
			if !found {
				fallback, found = v, true
			}
			next = start + end
			continue
		}

		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		lastErr = err
		var syn *json.SyntaxError
		if errors.As(err, &syn) && syn.Offset > 1 {
			next = start + int(syn.Offset)
		} else {
			next = start + 1
		}
	}

	if found {
		return fallback, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}

	// no bracket at all: a bare literal such as null
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeAt decodes one value at the start of s, falling back to the repair
// pass. end is the length of the raw value consumed. Syntax errors report
// offsets into the unrepaired text.
func decodeAt(s string) (v any, end int, err error) {
	dec := json.NewDecoder(strings.NewReader(s))
	if err = dec.Decode(&v); err == nil {
		return v, int(dec.InputOffset()), nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, err
	}

	dec = json.NewDecoder(strings.NewReader(repair(s)))
	if rerr := dec.Decode(&v); rerr == nil {
		return v, len(s), nil
	} else if errors.Is(rerr, io.ErrUnexpectedEOF) {
		return nil, 0, rerr
	}
	return nil, 0, err
}

func looksLikeEntries(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return true
	case []any:
		if len(t) == 0 {
			return true
		}
		for _, item := range t {
			if _, ok := item.(map[string]any); ok {
				return true
			}
		}
	}
	return false
}

// repair applies the single fix-up pass tried after a failed decode.
func repair(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = smartQuotes.Replace(s)
	return trailingCommaRe.ReplaceAllString(s, "$1")
}
