package parser

import (
	"bytes"
	"errors"
)

// Keyword is a recognized subunit text protocol command.
type Keyword string

const (
	KeywordTest     Keyword = "test"     // "test:" or "testing:"
	KeywordSuccess  Keyword = "success"  // "success:" or "successful:"
	KeywordFailure  Keyword = "failure"  // "failure:"
	KeywordError    Keyword = "error"    // "error:"
	KeywordSkip     Keyword = "skip"     // "skip:"
	KeywordProgress Keyword = "progress" // "progress:"
	KeywordTime     Keyword = "time"     // "time:", accepted and ignored
	KeywordTags     Keyword = "tags"     // "tags:", accepted and ignored
)

var aliases = map[string]Keyword{
	"test":       KeywordTest,
	"testing":    KeywordTest,
	"success":    KeywordSuccess,
	"successful": KeywordSuccess,
	"failure":    KeywordFailure,
	"error":      KeywordError,
	"skip":       KeywordSkip,
	"progress":   KeywordProgress,
	"time":       KeywordTime,
	"tags":       KeywordTags,
}

// ErrNotProtocol is returned by ParseLine for lines that are not subunit commands.
var ErrNotProtocol = errors.New("not a protocol line")

// Directive represents a single recognized line of the text protocol.
type Directive struct {
	Keyword Keyword
	Arg     string // test id, progress value, or the raw time/tags argument
	Opens   bool   // line ends with " [" and starts a bracketed body
}

// HasBody reports whether the keyword is allowed to carry a bracketed body.
func (k Keyword) HasBody() bool {
	switch k {
	case KeywordSuccess, KeywordFailure, KeywordError, KeywordSkip:
		return true
	}
	return false
}

// Ignored reports whether the keyword is protocol that carries no event.
func (k Keyword) Ignored() bool {
	return k == KeywordTime || k == KeywordTags
}

// ParseLine parses a single line of subunit text protocol.
// The line may carry its trailing "\n" or "\r\n".
func ParseLine(line []byte) (Directive, error) {
	line = TrimEOL(line)

	// command and argument are separated by a single space or tab; any
	// further whitespace belongs to the argument
	i := bytes.IndexAny(line, " \t")
	if i <= 0 {
		return Directive{}, ErrNotProtocol
	}
	cmd := string(bytes.TrimSuffix(line[:i], []byte(":")))
	kw, ok := aliases[cmd]
	if !ok {
		return Directive{}, ErrNotProtocol
	}

	arg := line[i+1:]
	d := Directive{Keyword: kw}
	if kw.HasBody() && bytes.HasSuffix(arg, []byte(" [")) {
		d.Opens = true
		arg = arg[:len(arg)-2]
	}
	if len(arg) == 0 && !kw.Ignored() {
		return Directive{}, ErrNotProtocol
	}
	d.Arg = string(arg)
	return d, nil
}

// IsBodyEnd reports whether line closes a bracketed body.
func IsBodyEnd(line []byte) bool {
	return string(TrimEOL(line)) == "]"
}

// UnquoteBodyLine reverses QuoteBodyLine: a line made of one or more spaces
// followed by "]" loses exactly one leading space.
func UnquoteBodyLine(line []byte) []byte {
	if isQuotedBracket(line) {
		return line[1:]
	}
	return line
}

// QuoteBodyLine prefixes a space to body lines that would otherwise be read
// back as the closing bracket (any run of spaces followed by "]").
func QuoteBodyLine(line []byte) []byte {
	trimmed := bytes.TrimLeft(line, " ")
	if len(trimmed) > 0 && trimmed[0] == ']' {
		return append([]byte{' '}, line...)
	}
	return line
}

func isQuotedBracket(line []byte) bool {
	if len(line) < 2 || line[0] != ' ' {
		return false
	}
	trimmed := bytes.TrimLeft(line, " ")
	return len(trimmed) > 0 && trimmed[0] == ']'
}

// TrimEOL strips a trailing "\n" or "\r\n".
func TrimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
