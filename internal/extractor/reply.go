package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\\n?(.*?)```")

// ParseReply decodes an analyzer reply. It tries the whole text, then the
// first fenced ```json block, then everything between the first '{' and the
// last '}'. Numbers decode as json.Number so integer offsets stay exact.
func ParseReply(text string) (any, error) {
	trimmed := strings.TrimSpace(text)

	if v, err := decodeJSON(trimmed); err == nil {
		return v, nil
	}

	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		if v, err := decodeJSON(strings.TrimSpace(m[1])); err == nil {
			return v, nil
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if v, err := decodeJSON(trimmed[start : end+1]); err == nil {
			return v, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnparseableReply, preview(trimmed, 80))
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
