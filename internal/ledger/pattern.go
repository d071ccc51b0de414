package ledger

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const placeholderOpen = "{datetime:"

// Pattern is a parsed file name template such as
// "fin_orders_{datetime:ddMMyyyyHHmm}.csv". The placeholder layout uses
// the y M d H m s S letters; any other character is copied literally and
// text in single quotes is never interpreted.
type Pattern struct {
	raw    string
	head   string // text before the placeholder
	tail   string // text after the placeholder
	layout []token
	prefix string // text before the first "{", used to match existing files
	ext    string // without the dot
}

type token struct {
	letter  byte // 0 for literal
	width   int
	literal string
}

func ParsePattern(raw string) (Pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return Pattern{}, fmt.Errorf("empty file name pattern")
	}
	if strings.ContainsAny(raw, `/\`) {
		return Pattern{}, fmt.Errorf("file name pattern %q must not contain a path separator", raw)
	}
	p := Pattern{raw: raw, head: raw}
	if i := strings.Index(raw, "{"); i >= 0 {
		p.prefix = raw[:i]
	} else {
		p.prefix = raw
	}
	if ext := filepath.Ext(raw); ext != "" {
		p.ext = ext[1:]
	}

	start := strings.Index(raw, placeholderOpen)
	if start < 0 {
		return p, nil
	}
	end := strings.Index(raw[start:], "}")
	if end < 0 {
		return Pattern{}, fmt.Errorf("file name pattern %q: unterminated placeholder", raw)
	}
	end += start
	layout, err := tokenize(raw[start+len(placeholderOpen) : end])
	if err != nil {
		return Pattern{}, fmt.Errorf("file name pattern %q: %w", raw, err)
	}
	p.head = raw[:start]
	p.tail = raw[end+1:]
	p.layout = layout
	return p, nil
}

func tokenize(layout string) ([]token, error) {
	if layout == "" {
		return nil, fmt.Errorf("empty datetime layout")
	}
	var out []token
	for i := 0; i < len(layout); {
		c := layout[i]
		switch {
		case c == '\'':
			j := strings.IndexByte(layout[i+1:], '\'')
			if j < 0 {
				return nil, fmt.Errorf("unterminated quote in datetime layout %q", layout)
			}
			out = append(out, token{literal: layout[i+1 : i+1+j]})
			i += j + 2
		case strings.IndexByte("yMdHmsS", c) >= 0:
			j := i
			for j < len(layout) && layout[j] == c {
				j++
			}
			out = append(out, token{letter: c, width: j - i})
			i = j
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			return nil, fmt.Errorf("unsupported datetime letter %q in layout %q", c, layout)
		default:
			out = append(out, token{literal: string(c)})
			i++
		}
	}
	return out, nil
}

// Generate renders the file name for the given instant.
func (p Pattern) Generate(now time.Time) string {
	if p.layout == nil {
		return p.raw
	}
	var b strings.Builder
	b.WriteString(p.head)
	for _, t := range p.layout {
		if t.letter == 0 {
			b.WriteString(t.literal)
			continue
		}
		b.WriteString(formatField(now, t))
	}
	b.WriteString(p.tail)
	return b.String()
}

func formatField(now time.Time, t token) string {
	var v int
	switch t.letter {
	case 'y':
		v = now.Year()
		if t.width == 2 {
			return fmt.Sprintf("%02d", v%100)
		}
	case 'M':
		v = int(now.Month())
	case 'd':
		v = now.Day()
	case 'H':
		v = now.Hour()
	case 'm':
		v = now.Minute()
	case 's':
		v = now.Second()
	case 'S':
		// fraction of a second truncated to the requested digits
		v = now.Nanosecond()
		for d := 9; d > t.width; d-- {
			v /= 10
		}
	}
	return fmt.Sprintf("%0*d", t.width, v)
}

// Matches reports whether an existing file name belongs to this pattern:
// same prefix and same extension, both compared case-insensitively.
func (p Pattern) Matches(name string) bool {
	if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(p.prefix)) {
		return false
	}
	ext := filepath.Ext(name)
	if ext != "" {
		ext = ext[1:]
	}
	return strings.EqualFold(ext, p.ext)
}

func (p Pattern) String() string { return p.raw }
