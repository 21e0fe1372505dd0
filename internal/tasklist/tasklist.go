// Package tasklist reads and writes a project's task_lists.md (§3
// TaskListEntry, §4.F SELECT/ERROR_INJECT/UPDATE_TASKLIST), parsing it
// leniently the way the donor's workflow loader parses YAML workflow
// definitions: an entry without a dotted numeric id is skipped with a
// warning, a missing title defaults to the id with a warning, and a
// missing criteria map becomes empty; the other optional fields keep
// their zero values without a warning.
package tasklist

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// document is the on-disk shape of task_lists.md: a YAML mapping with
// a "tasks" list. Teams are free to omit any field but TaskID.
type document struct {
	Tasks []rawEntry `yaml:"tasks"`
}

type rawEntry struct {
	ID           string            `yaml:"id"`
	Title        string            `yaml:"title"`
	Description  string            `yaml:"description"`
	Dependencies []string          `yaml:"dependencies"`
	Files        []string          `yaml:"files"`
	Criteria     map[string]string `yaml:"criteria"`
}

// Load reads path and returns entries plus lenient-parse warnings.
// A missing file yields an empty list, not an error, so a brand new
// project can still reach SELECT → DONE.
func Load(path string) ([]models.TaskListEntry, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read task list %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse task list %s: %w", path, err)
	}

	var warnings []string
	entries := make([]models.TaskListEntry, 0, len(doc.Tasks))
	for i, raw := range doc.Tasks {
		if raw.ID == "" {
			warnings = append(warnings, fmt.Sprintf("task at index %d missing id, skipped", i))
			continue
		}
		if !dottedIDPattern.MatchString(raw.ID) {
			warnings = append(warnings, fmt.Sprintf("task %q has a non-dotted-numeric id, skipped", raw.ID))
			continue
		}
		entry := models.TaskListEntry{
			TaskID:       raw.ID,
			Title:        raw.Title,
			Description:  raw.Description,
			Dependencies: raw.Dependencies,
			Files:        raw.Files,
			Criteria:     raw.Criteria,
		}
		if entry.Title == "" {
			entry.Title = entry.TaskID
			warnings = append(warnings, fmt.Sprintf("task %q missing title, defaulted to id", raw.ID))
		}
		if entry.Criteria == nil {
			entry.Criteria = map[string]string{}
		}
		entries = append(entries, entry)
	}
	return entries, warnings, nil
}

// Save writes entries back to path in the same shape Load expects, so
// Load(Save(entries)) round-trips (§8 "lenient parse... is a fixed
// point").
func Save(path string, entries []models.TaskListEntry) error {
	doc := document{Tasks: make([]rawEntry, 0, len(entries))}
	for _, e := range entries {
		doc.Tasks = append(doc.Tasks, rawEntry{
			ID:           e.TaskID,
			Title:        e.Title,
			Description:  e.Description,
			Dependencies: e.Dependencies,
			Files:        e.Files,
			Criteria:     e.Criteria,
		})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal task list: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write task list %s: %w", path, err)
	}
	return nil
}

var dottedIDPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)

// CompareDottedID implements the §4.F tie-break: lexicographic on
// dotted numeric identifiers, compared part-wise numerically so
// "1.2.3" < "1.10.1".
func CompareDottedID(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")
	for i := 0; i < len(partsA) && i < len(partsB); i++ {
		na, _ := strconv.Atoi(partsA[i])
		nb, _ := strconv.Atoi(partsB[i])
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	if len(partsA) == len(partsB) {
		return 0
	}
	if len(partsA) < len(partsB) {
		return -1
	}
	return 1
}

// Select picks the lowest-numbered unfinished task whose dependencies
// are all in completed, per §4.F SELECT and the §8 testable property
// ("the chosen taskId is the minimum... among tasks whose dependencies
// are complete"). Returns nil, nil when no task remains eligible.
func Select(entries []models.TaskListEntry, completed map[string]bool) (*models.TaskListEntry, error) {
	var eligible []models.TaskListEntry
	for _, e := range entries {
		if completed[e.TaskID] {
			continue
		}
		if dependenciesSatisfied(e.Dependencies, completed) {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	best := eligible[0]
	for _, e := range eligible[1:] {
		if CompareDottedID(e.TaskID, best.TaskID) < 0 {
			best = e
		}
	}
	return &best, nil
}

func dependenciesSatisfied(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

// InjectRemediation inserts a remediation task immediately after
// failedTaskID with a dependency back to it, per §4.F ERROR_INJECT /
// INJECT_TASK. The new identifier is the failed task's dotted id with
// a numeric suffix appended (§9 open question, resolved in favor of
// numeric-suffix insertion), disambiguated against any id already in
// entries.
func InjectRemediation(entries []models.TaskListEntry, failedTaskID, title, description string, files []string) ([]models.TaskListEntry, models.TaskListEntry, error) {
	idx := -1
	for i, e := range entries {
		if e.TaskID == failedTaskID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return entries, models.TaskListEntry{}, fmt.Errorf("failed task %s not found in task list", failedTaskID)
	}

	existing := make(map[string]bool, len(entries))
	for _, e := range entries {
		existing[e.TaskID] = true
	}
	suffix := 1
	var newID string
	for {
		newID = fmt.Sprintf("%s.%d", failedTaskID, suffix)
		if !existing[newID] {
			break
		}
		suffix++
	}

	remediation := models.TaskListEntry{
		TaskID:       newID,
		Title:        title,
		Description:  description,
		Dependencies: []string{failedTaskID},
		Files:        files,
		Criteria:     map[string]string{},
	}

	out := make([]models.TaskListEntry, 0, len(entries)+1)
	out = append(out, entries[:idx+1]...)
	out = append(out, remediation)
	out = append(out, entries[idx+1:]...)
	return out, remediation, nil
}
