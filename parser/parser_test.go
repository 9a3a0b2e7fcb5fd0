package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_Keywords(t *testing.T) {
	tests := []struct {
		line    string
		keyword Keyword
		arg     string
		opens   bool
	}{
		{"test: case1\n", KeywordTest, "case1", false},
		{"testing: case1\n", KeywordTest, "case1", false},
		{"test case1\n", KeywordTest, "case1", false},
		{"success: case1\n", KeywordSuccess, "case1", false},
		{"successful: case1\n", KeywordSuccess, "case1", false},
		{"failure: case1 [\n", KeywordFailure, "case1", true},
		{"error: case1 [\r\n", KeywordError, "case1", true},
		{"error: case1\n", KeywordError, "case1", false},
		{"skip: case1 [\n", KeywordSkip, "case1", true},
		{"progress: +3\n", KeywordProgress, "+3", false},
		{"time: 2024-01-01 00:00:00Z\n", KeywordTime, "2024-01-01 00:00:00Z", false},
		{"success: name with spaces", KeywordSuccess, "name with spaces", false},
		{"test:  lead\n", KeywordTest, " lead", false},
		{"test:\t\tlead\n", KeywordTest, "\tlead", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d, err := ParseLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.keyword, d.Keyword)
			assert.Equal(t, tt.arg, d.Arg)
			assert.Equal(t, tt.opens, d.Opens)
		})
	}
}

func TestParseLine_NotProtocol(t *testing.T) {
	for _, line := range []string{
		"",
		"\n",
		"hello world\n",
		"success:\n",
		"success: \n",
		"]\n",
		"  test: indented\n",
		"xfail: something\n",
	} {
		_, err := ParseLine([]byte(line))
		assert.ErrorIs(t, err, ErrNotProtocol, "line %q", line)
	}
}

func TestParseLine_StartDoesNotOpenBody(t *testing.T) {
	d, err := ParseLine([]byte("test: odd [\n"))
	require.NoError(t, err)
	assert.False(t, d.Opens)
	assert.Equal(t, "odd [", d.Arg)
}

func TestIsBodyEnd(t *testing.T) {
	assert.True(t, IsBodyEnd([]byte("]\n")))
	assert.True(t, IsBodyEnd([]byte("]\r\n")))
	assert.True(t, IsBodyEnd([]byte("]")))
	assert.False(t, IsBodyEnd([]byte(" ]\n")))
	assert.False(t, IsBodyEnd([]byte("]]\n")))
}

func TestQuoteBodyLine_RoundTrip(t *testing.T) {
	for _, line := range []string{"]\n", " ]\n", "  ]x\n", "plain\n", "a]\n", "\n"} {
		quoted := QuoteBodyLine([]byte(line))
		assert.False(t, IsBodyEnd(quoted), "quoted %q must not close a body", line)
		assert.Equal(t, line, string(UnquoteBodyLine(quoted)))
	}
}
