package tasklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

func TestCompareDottedIDNumericNotLexicographic(t *testing.T) {
	assert.Negative(t, CompareDottedID("1.2.3", "1.10.1"))
	assert.Positive(t, CompareDottedID("1.10.1", "1.2.3"))
}

func TestCompareDottedIDEqual(t *testing.T) {
	assert.Equal(t, 0, CompareDottedID("2.1", "2.1"))
}

func TestCompareDottedIDShorterPrefixSortsFirst(t *testing.T) {
	assert.Negative(t, CompareDottedID("1.2", "1.2.1"))
	assert.Positive(t, CompareDottedID("1.2.1", "1.2"))
}

func TestCompareDottedIDSingleSegment(t *testing.T) {
	assert.Negative(t, CompareDottedID("2", "10"))
}

func TestSelectPicksMinimumEligibleID(t *testing.T) {
	entries := []models.TaskListEntry{
		{TaskID: "1.10"},
		{TaskID: "1.2"},
		{TaskID: "1.9"},
	}
	got, err := Select(entries, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1.2", got.TaskID)
}

func TestSelectSkipsCompletedTasks(t *testing.T) {
	entries := []models.TaskListEntry{
		{TaskID: "1.1"},
		{TaskID: "1.2"},
	}
	got, err := Select(entries, map[string]bool{"1.1": true})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1.2", got.TaskID)
}

func TestSelectSkipsTasksWithUnmetDependencies(t *testing.T) {
	entries := []models.TaskListEntry{
		{TaskID: "1.1", Dependencies: []string{"1.0"}},
		{TaskID: "1.2"},
	}
	got, err := Select(entries, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1.2", got.TaskID)
}

func TestSelectReturnsNilWhenNothingEligible(t *testing.T) {
	entries := []models.TaskListEntry{
		{TaskID: "1.1", Dependencies: []string{"1.0"}},
	}
	got, err := Select(entries, map[string]bool{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSelectReturnsNilOnEmptyTaskList(t *testing.T) {
	got, err := Select(nil, map[string]bool{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadMissingFileReturnsEmptyNotError(t *testing.T) {
	entries, warnings, err := Load(filepath.Join(t.TempDir(), "does_not_exist.md"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, warnings)
}

func TestSaveLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task_lists.md")
	entries := []models.TaskListEntry{
		{
			TaskID:       "1.1",
			Title:        "Implement thing",
			Description:  "do the thing",
			Dependencies: []string{},
			Files:        []string{"a.go"},
			Criteria:     map[string]string{"tests": "pass"},
		},
	}

	require.NoError(t, Save(path, entries))

	got, warnings, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, got, 1)
	assert.Equal(t, entries[0].TaskID, got[0].TaskID)
	assert.Equal(t, entries[0].Title, got[0].Title)
	assert.Equal(t, entries[0].Criteria, got[0].Criteria)
}

func TestLoadSkipsEntryMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task_lists.md")
	content := "tasks:\n  - title: orphan\n  - id: \"1.1\"\n    title: real\n"
	require.NoError(t, writeFile(path, content))

	entries, warnings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.1", entries[0].TaskID)
	assert.Len(t, warnings, 1)
}

func TestLoadDefaultsMissingTitleToID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task_lists.md")
	content := "tasks:\n  - id: \"2.1\"\n"
	require.NoError(t, writeFile(path, content))

	entries, warnings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2.1", entries[0].Title)
	assert.Len(t, warnings, 1)
}

func TestInjectRemediationAppendsDependentTask(t *testing.T) {
	entries := []models.TaskListEntry{
		{TaskID: "1.1"},
		{TaskID: "1.2"},
	}

	out, remediation, err := InjectRemediation(entries, "1.1", "fix build", "install missing tool", []string{"package.json"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "1.1.1", remediation.TaskID)
	assert.Equal(t, []string{"1.1"}, remediation.Dependencies)
	assert.Equal(t, "1.1", out[0].TaskID)
	assert.Equal(t, "1.1.1", out[1].TaskID)
	assert.Equal(t, "1.2", out[2].TaskID)
}

func TestInjectRemediationDisambiguatesAgainstExistingSuffix(t *testing.T) {
	entries := []models.TaskListEntry{
		{TaskID: "1.1"},
		{TaskID: "1.1.1"},
	}

	_, remediation, err := InjectRemediation(entries, "1.1", "fix build", "retry", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.2", remediation.TaskID)
}

func TestInjectRemediationErrorsWhenFailedTaskMissing(t *testing.T) {
	_, _, err := InjectRemediation(nil, "9.9", "fix", "desc", nil)
	assert.Error(t, err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
