package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parse builds a Filter from a compact query string, for the CLI and the
// HTTP API. Syntax:
//
//	level:ERROR,WARN namespace:core after:2024-01-15 before:now-1h timeout
//
// Recognized prefixes are level:/levels:, namespace:/ns:, after:/from: and
// before:/to:. Values may be double-quoted to include spaces. Bare tokens
// accumulate into the free-text search. An unknown prefix is an error, and
// the resulting filter is validated before it is returned.
func Parse(input string) (Filter, error) {
	p := &parser{input: input}
	var f Filter
	var searchTerms []string

	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			break
		}

		token := p.readToken()
		if token == "" {
			break
		}

		key, value, ok := splitKeyValue(token)
		if !ok {
			searchTerms = append(searchTerms, unquote(token))
			continue
		}

		switch key {
		case "level", "levels":
			for _, l := range strings.Split(unquote(value), ",") {
				if l = strings.TrimSpace(l); l != "" {
					f.Levels = append(f.Levels, l)
				}
			}
		case "namespace", "ns":
			f.Namespace = unquote(value)
		case "after", "from":
			t, err := parseTimeValue(unquote(value))
			if err != nil {
				return Filter{}, fmt.Errorf("bad %s value %q: %w", key, value, err)
			}
			f.From = t
		case "before", "to":
			t, err := parseTimeValue(unquote(value))
			if err != nil {
				return Filter{}, fmt.Errorf("bad %s value %q: %w", key, value, err)
			}
			f.To = t
		default:
			return Filter{}, fmt.Errorf("unknown query field %q", key)
		}
	}

	f.Search = strings.Join(searchTerms, " ")
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// splitKeyValue splits "key:value" tokens. A leading-colon or quoted token
// is not a key/value pair.
func splitKeyValue(token string) (key, value string, ok bool) {
	if strings.HasPrefix(token, `"`) {
		return "", "", false
	}
	i := strings.Index(token, ":")
	if i <= 0 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// parser walks the query string one token at a time.
type parser struct {
	input string
	pos   int
}

// readToken reads up to the next unquoted space. A double quote opens a
// quoted span that may contain spaces; the quote may begin mid-token, as in
// namespace:"core db".
func (p *parser) readToken() string {
	start := p.pos
	inQuotes := false
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == '"' {
			inQuotes = !inQuotes
		} else if ch == ' ' && !inQuotes {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) skipWhitespace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

// reDay matches a number followed by 'd' (days), e.g. "7d".
var reDay = regexp.MustCompile(`(\d+)d`)

// reWeek matches a number followed by 'w' (weeks), e.g. "2w".
var reWeek = regexp.MustCompile(`(\d+)w`)

// parseDurationExtended extends time.ParseDuration to support day ('d') and
// week ('w') units by converting them to hours before parsing.
func parseDurationExtended(s string) (time.Duration, error) {
	s = reDay.ReplaceAllStringFunc(s, func(m string) string {
		n, _ := strconv.Atoi(m[:len(m)-1])
		return fmt.Sprintf("%dh", n*24)
	})
	s = reWeek.ReplaceAllStringFunc(s, func(m string) string {
		n, _ := strconv.Atoi(m[:len(m)-1])
		return fmt.Sprintf("%dh", n*7*24)
	})
	return time.ParseDuration(s)
}

// parseTimeValue accepts relative times (now, now-1h, now-7d, now-2w),
// RFC3339 timestamps, timezone-less datetimes and bare dates (both UTC).
func parseTimeValue(val string) (time.Time, error) {
	if strings.HasPrefix(val, "now") {
		rest := strings.TrimPrefix(val, "now")
		if rest == "" {
			return time.Now(), nil
		}
		rest = strings.TrimPrefix(rest, "-")
		d, err := parseDurationExtended(rest)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().Add(-d), nil
	}

	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", val); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
	}
	if t, err := time.Parse("2006-01-02", val); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time %q", val)
}
