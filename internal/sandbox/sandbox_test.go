package sandbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/crewforge/internal/model"
)

func TestWriteFileThenReadFile(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	rel, err := sb.WriteFile("components/Button.tsx", "export const Button = () => null;")
	require.NoError(t, err)
	require.Equal(t, "components/Button.tsx", rel)

	content, found, err := sb.ReadFile("components/Button.tsx")
	require.NoError(t, err)
	require.True(t, found)
	require.Contains(t, content, "Button")
}

func TestReadFileMissingIsNotAnError(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	_, found, err := sb.ReadFile("does/not/exist.ts")
	require.NoError(t, err)
	require.False(t, found)
}

func TestWriteFileRejectsPathEscape(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	_, err = sb.WriteFile("../../etc/passwd", "pwned")
	require.ErrorIs(t, err, ErrPathEscape)
}

func TestListFilesExcludesHiddenAndNodeModules(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	_, err = sb.WriteFile("app/page.tsx", "export default function Page() { return null }")
	require.NoError(t, err)
	_, err = sb.WriteFile(".hidden/file.txt", "secret")
	require.NoError(t, err)
	_, err = sb.WriteFile("node_modules/pkg/index.js", "module.exports = {}")
	require.NoError(t, err)

	nodes, err := sb.ListFiles("")
	require.NoError(t, err)

	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	require.Contains(t, names, "app")
	require.NotContains(t, names, ".hidden")
	require.NotContains(t, names, "node_modules")
}

func TestSaveVersionRateLimited(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", &alwaysOKVersioner{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < MaxAgentVersionsPerRun; i++ {
		require.NoError(t, sb.SaveVersion(ctx, "checkpoint"))
	}
	require.Error(t, sb.SaveVersion(ctx, "one-too-many"))
}

func TestExecuteRejectsToolInputMissingRequiredField(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	raw, isErr := sb.Execute(context.Background(), model.ToolCall{
		Name:  ToolWriteFile,
		Input: json.RawMessage(`{"path":"a.txt"}`),
	})
	require.True(t, isErr)

	var decoded struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded.Error, "invalid input")
}

func TestExecuteAcceptsValidToolInput(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	_, isErr := sb.Execute(context.Background(), model.ToolCall{
		Name:  ToolWriteFile,
		Input: json.RawMessage(`{"path":"a.txt","content":"hello"}`),
	})
	require.False(t, isErr)
}

func TestWriteFileReportsActualResolvedPath(t *testing.T) {
	sb, err := New(t.TempDir(), "proj-1", nil, nil)
	require.NoError(t, err)

	rel, err := sb.WriteFile("a/../b.txt", "hello")
	require.NoError(t, err)
	require.Equal(t, "b.txt", rel)

	content, found, err := sb.ReadFile("b.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", content)
}

type recordingNotifier struct {
	calls [][]string
}

func (n *recordingNotifier) FilesChanged(projectID string, paths []string) {
	n.calls = append(n.calls, paths)
}

func TestWriteFilesNotifiesOncePerBatch(t *testing.T) {
	notifier := &recordingNotifier{}
	sb, err := New(t.TempDir(), "proj-1", nil, notifier)
	require.NoError(t, err)

	written, err := sb.WriteFiles([]WriteFileInput{
		{Path: "a.txt", Content: "a"},
		{Path: "b.txt", Content: "b"},
		{Path: "c.txt", Content: "c"},
	})
	require.NoError(t, err)
	require.Len(t, written, 3)
	require.Len(t, notifier.calls, 1)
	require.ElementsMatch(t, written, notifier.calls[0])
}

type alwaysOKVersioner struct{}

func (alwaysOKVersioner) SaveVersion(ctx context.Context, projectID, label string) error {
	return nil
}
