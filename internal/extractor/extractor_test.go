package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractParsesStrictJSONToolCall(t *testing.T) {
	text := `Here is the file:
<tool_call>{"name":"write_file","parameters":{"path":"./src/app.go","content":"package main\n"}}</tool_call>`

	files := Extract(text)
	require.Len(t, files, 1)
	require.Equal(t, "src/app.go", files[0].Path)
	require.Equal(t, "package main\n", files[0].Content)
}

func TestExtractRepairsRawNewlinesInContent(t *testing.T) {
	text := "<tool_call>{\"name\":\"write_file\",\"parameters\":{\"path\":\"main.go\",\"content\":\"line one\nline two\"}}</tool_call>"

	files := Extract(text)
	require.Len(t, files, 1)
	require.Equal(t, "line one\nline two", files[0].Content)
}

func TestExtractRegexRecoversUnescapedQuotes(t *testing.T) {
	text := `<tool_call>{"name":"write_file","parameters":{"path":"index.html","content":"<div class="x">hi</div>"}}</tool_call>`

	files := Extract(text)
	require.Len(t, files, 1)
	require.Equal(t, "index.html", files[0].Path)
}

func TestExtractIgnoresNonWriteFileCalls(t *testing.T) {
	text := `<tool_call>{"name":"read_file","parameters":{"path":"a.go"}}</tool_call>`
	require.Empty(t, Extract(text))
}

func TestExtractDedupsByFirstOccurrence(t *testing.T) {
	text := `<tool_call>{"name":"write_file","parameters":{"path":"a.go","content":"first"}}</tool_call>
<tool_call>{"name":"write_file","parameters":{"path":"a.go","content":"second"}}</tool_call>`

	files := Extract(text)
	require.Len(t, files, 1)
	require.Equal(t, "first", files[0].Content)
}

func TestExtractRejectsPathsThatEscapeRoot(t *testing.T) {
	cases := []string{"/etc/passwd", "../../etc/passwd", "a/../../b"}
	for _, p := range cases {
		text := `<tool_call>{"name":"write_file","parameters":{"path":"` + p + `","content":"x"}}</tool_call>`
		require.Empty(t, Extract(text), "path %q should have been rejected", p)
	}
}

func TestExtractStripsLeadingDotSlashAndNormalizesSeparators(t *testing.T) {
	text := `<tool_call>{"name":"write_file","parameters":{"path":"./././src/a.go","content":"x"}}</tool_call>`
	files := Extract(text)
	require.Len(t, files, 1)
	require.Equal(t, "src/a.go", files[0].Path)
}

func TestExtractReturnsNilForNoToolCalls(t *testing.T) {
	require.Empty(t, Extract("just some prose, no tool calls here"))
}
