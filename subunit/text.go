package subunit

import (
	"bytes"
	"strings"

	"github.com/ansel1/subunit/parser"
)

// textKeywords is the keyword written for each kind in the text encoding.
var textKeywords = map[Kind]string{
	KindStart:    "test",
	KindSuccess:  "success",
	KindFail:     "failure",
	KindError:    "error",
	KindSkip:     "skip",
	KindProgress: "progress",
}

// kindFromKeyword maps a parsed text keyword to an event kind.
func kindFromKeyword(kw parser.Keyword) (Kind, bool) {
	switch kw {
	case parser.KeywordTest:
		return KindStart, true
	case parser.KeywordSuccess:
		return KindSuccess, true
	case parser.KeywordFailure:
		return KindFail, true
	case parser.KeywordError:
		return KindError, true
	case parser.KeywordSkip:
		return KindSkip, true
	case parser.KeywordProgress:
		return KindProgress, true
	}
	return 0, false
}

// marshalText renders e in the line-oriented text encoding. Attachments
// and timestamps have no text representation and are dropped.
func marshalText(e Event) ([]byte, error) {
	if strings.ContainsAny(e.TestID, "\r\n") {
		return nil, invalidEvent(e, "test id contains a line break")
	}
	if e.Kind.Terminal() && strings.HasSuffix(e.TestID, " [") {
		return nil, invalidEvent(e, `test id ends with " ["`)
	}

	var b bytes.Buffer
	b.WriteString(textKeywords[e.Kind])
	b.WriteString(": ")
	b.WriteString(e.TestID)

	bracketed := e.Kind == KindFail || e.Kind == KindError ||
		(e.Kind.Terminal() && e.Message != "")
	if !bracketed {
		b.WriteByte('\n')
		return b.Bytes(), nil
	}

	b.WriteString(" [\n")
	msg := normalizeMessage(e.Message)
	for len(msg) > 0 {
		i := strings.IndexByte(msg, '\n')
		line := msg[:i+1]
		msg = msg[i+1:]
		b.Write(parser.QuoteBodyLine([]byte(line)))
	}
	b.WriteString("]\n")
	return b.Bytes(), nil
}
