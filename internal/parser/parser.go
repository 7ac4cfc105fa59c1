// Package parser turns one line of terminal input into a Command.
//
// Tokens split on whitespace outside quotes. Single and double quotes open a
// literal span closed by the same quote character; a backslash outside quotes
// takes the next character literally. Tokens that start with an unquoted "--"
// are flags: "--name=value", "--name value" or a bare boolean "--name". A lone
// "--" ends flag recognition. The first non-flag token is the command name.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	terrors "github.com/rama-kairi/termcore/internal/errors"
)

// Flag is the value bound to a --name token. HasValue is false for boolean flags.
type Flag struct {
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"has_value"`
}

// Command is the parsed form of one input line
type Command struct {
	Name  string          `json:"name"`
	Args  []string        `json:"args"`
	Flags map[string]Flag `json:"flags"`
	Raw   string          `json:"raw"`
}

// Flag returns the value of a flag and whether it was given at all
func (c Command) Flag(name string) (string, bool) {
	f, ok := c.Flags[name]
	return f.Value, ok
}

// BoolFlag reports whether a flag is set. "--x" and "--x=true" are set,
// "--x=false" is not.
func (c Command) BoolFlag(name string) bool {
	f, ok := c.Flags[name]
	if !ok {
		return false
	}
	if !f.HasValue {
		return true
	}
	v, err := strconv.ParseBool(f.Value)
	return err == nil && v
}

// IntFlag returns the integer value of a flag, or def when absent or malformed
func (c Command) IntFlag(name string, def int) int {
	f, ok := c.Flags[name]
	if !ok || !f.HasValue {
		return def
	}
	n, err := strconv.Atoi(f.Value)
	if err != nil {
		return def
	}
	return n
}

// Arg returns the i-th positional argument or ""
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// ErrorKind identifies why a line could not be parsed
type ErrorKind int

const (
	UnterminatedQuote ErrorKind = iota + 1
	MissingCommand
)

func (k ErrorKind) String() string {
	switch k {
	case UnterminatedQuote:
		return "UnterminatedQuote"
	case MissingCommand:
		return "MissingCommand"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ParseError is returned for lines that cannot produce a Command
type ParseError struct {
	Kind   ErrorKind
	Column int  // 0-based rune offset of the opening quote
	Quote  rune // quote character for UnterminatedQuote
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case UnterminatedQuote:
		return fmt.Sprintf("parse: unterminated %c quote at column %d", e.Quote, e.Column)
	default:
		return "parse: " + strings.ToLower(e.Kind.String())
	}
}

// Unwrap exposes the matching TerminalError so callers can switch on codes
func (e *ParseError) Unwrap() error {
	switch e.Kind {
	case UnterminatedQuote:
		return terrors.UnterminatedQuote(e.Quote, e.Column)
	default:
		return terrors.MissingCommand()
	}
}

type token struct {
	text string
	// flag is set when the token starts with "--" typed outside quotes and escapes
	flag bool
}

// Parse parses a single input line. ok is false with a nil error for blank lines.
func Parse(line string) (cmd Command, ok bool, err error) {
	tokens, err := tokenize(line)
	if err != nil {
		return Command{}, false, err
	}
	if len(tokens) == 0 {
		return Command{}, false, nil
	}

	cmd = Command{
		Args:  []string{},
		Flags: make(map[string]Flag),
		Raw:   line,
	}

	named := false
	flagsDone := false
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if tok.flag && !flagsDone {
			if tok.text == "--" {
				flagsDone = true
				continue
			}

			body := tok.text[2:]
			if name, value, found := strings.Cut(body, "="); found && name != "" {
				cmd.Flags[name] = Flag{Value: value, HasValue: true}
				continue
			} else if !found {
				if i+1 < len(tokens) && !tokens[i+1].flag {
					cmd.Flags[body] = Flag{Value: tokens[i+1].text, HasValue: true}
					i++
				} else {
					cmd.Flags[body] = Flag{}
				}
				continue
			}
			// "--=x" has no name and stays positional
		}

		if !named {
			cmd.Name = tok.text
			named = true
			continue
		}
		cmd.Args = append(cmd.Args, tok.text)
	}

	if !named {
		return Command{}, false, &ParseError{Kind: MissingCommand}
	}
	return cmd, true, nil
}

func tokenize(line string) ([]token, error) {
	var (
		tokens []token
		cur    strings.Builder
		open   bool // a token is in progress, possibly empty ("")
		dashes int  // leading "-" typed outside quotes
		broken bool // the leading dash run has ended

		quote    rune
		quoteCol int
	)

	literal := func(r rune) {
		cur.WriteRune(r)
		open = true
		broken = true
	}
	flush := func() {
		if open {
			tokens = append(tokens, token{text: cur.String(), flag: dashes >= 2})
		}
		cur.Reset()
		open = false
		dashes = 0
		broken = false
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			if r == quote {
				quote = 0
				continue
			}
			literal(r)
			continue
		}

		switch {
		case r == '\\':
			if i+1 < len(runes) {
				i++
				literal(runes[i])
			} else {
				literal(r)
			}
		case r == '"' || r == '\'':
			quote = r
			quoteCol = i
			open = true
			broken = true
		case unicode.IsSpace(r):
			flush()
		default:
			if r == '-' && !broken {
				dashes++
			} else {
				broken = true
			}
			cur.WriteRune(r)
			open = true
		}
	}

	if quote != 0 {
		return nil, &ParseError{Kind: UnterminatedQuote, Column: quoteCol, Quote: quote}
	}
	flush()
	return tokens, nil
}
