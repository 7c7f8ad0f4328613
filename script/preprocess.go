package script

import (
	"strings"

	"github.com/nickyhof/LayerDB/core"
)

// Preprocess joins continued lines and substitutes ${NAME} parameters.
// A parameter preceded by a backslash is left alone; afterwards every
// "\$" becomes "$". All unbound names are reported in one ParseError.
func Preprocess(source string, params map[string]string) (string, error) {
	source = strings.ReplaceAll(source, "\\\r\n", "")
	source = strings.ReplaceAll(source, "\\\n", "")

	var (
		out     strings.Builder
		unbound []string
		seen    = make(map[string]bool)
	)
	out.Grow(len(source))

	for i := 0; i < len(source); i++ {
		ch := source[i]
		switch {
		case ch == '\\' && i+1 < len(source) && source[i+1] == '$':
			out.WriteByte('$')
			i++
		case ch == '$' && i+1 < len(source) && source[i+1] == '{':
			end := strings.IndexByte(source[i+2:], '}')
			if end < 0 {
				out.WriteString(source[i:])
				i = len(source)
				continue
			}
			name := source[i+2 : i+2+end]
			value, ok := params[name]
			if !ok {
				if !seen[name] {
					seen[name] = true
					unbound = append(unbound, name)
				}
				out.WriteString(source[i : i+3+end])
			} else {
				out.WriteString(value)
			}
			i += 2 + end
		default:
			out.WriteByte(ch)
		}
	}

	if len(unbound) > 0 {
		return "", &core.ParseError{Params: unbound, Msg: "unbound parameters"}
	}
	return out.String(), nil
}

type rawCommand struct {
	line int
	text string
}

// split breaks a preprocessed script into commands. A newline ends a command
// unless it sits inside a {...} block. Blank lines and # comments are dropped.
func split(source string) []rawCommand {
	var (
		commands []rawCommand
		current  strings.Builder
		line     = 1
		start    = 1
		inBlock  bool
		inQuote  bool
	)

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text != "" && !strings.HasPrefix(text, "#") {
			commands = append(commands, rawCommand{line: start, text: text})
		}
	}

	for i := 0; i < len(source); i++ {
		ch := source[i]
		switch {
		case inBlock:
			if ch == '\\' && i+1 < len(source) && source[i+1] == '}' {
				current.WriteByte(ch)
				ch = source[i+1]
				i++
			} else if ch == '}' {
				inBlock = false
			}
		case inQuote && ch == '\\' && i+1 < len(source) && source[i+1] == '\'':
			current.WriteByte(ch)
			ch = source[i+1]
			i++
		case ch == '\n':
			flush()
			inQuote = false
			line++
			start = line
			continue
		case ch == '\'':
			inQuote = !inQuote
		case ch == '{' && !inQuote:
			inBlock = true
		}
		if ch == '\n' {
			line++
		}
		if current.Len() == 0 && isSpace(ch) {
			start = line
			continue
		}
		current.WriteByte(ch)
	}
	flush()
	return commands
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
