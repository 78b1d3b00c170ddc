package task

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pablasso/taskpilot/internal/util"
)

const (
	tasksDir = "tasks"
	plansDir = "plans"
)

// FileStore persists each task and plan as a markdown file with YAML front
// matter under a data directory:
//
//	<dir>/tasks/<id>-<slug>.md
//	<dir>/plans/<task-id>.md
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. Directories are created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// TasksDir returns the directory holding task files.
func (s *FileStore) TasksDir() string { return filepath.Join(s.dir, tasksDir) }

// PlansDir returns the directory holding plan files.
func (s *FileStore) PlansDir() string { return filepath.Join(s.dir, plansDir) }

// ListTasks returns non-archived tasks in board order. Unparseable files are
// skipped.
func (s *FileStore) ListTasks() ([]*Task, error) {
	matches, err := filepath.Glob(filepath.Join(s.TasksDir(), "*.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob tasks: %w", err)
	}

	var tasks []*Task
	for _, match := range matches {
		t, err := readTaskFile(match)
		if err != nil || t.Archived {
			continue
		}
		tasks = append(tasks, t)
	}
	SortTasks(tasks)
	return tasks, nil
}

func (s *FileStore) GetTask(id string) (*Task, error) {
	path, err := s.findTaskFile(id)
	if err != nil {
		return nil, err
	}
	return readTaskFile(path)
}

// SaveTask writes the task, renaming its file when the title slug changed.
func (s *FileStore) SaveTask(t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	t.UpdatedAt = time.Now().UTC()

	meta, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	path := filepath.Join(s.TasksDir(), taskFileName(t))
	if err := writeAtomic(path, joinFrontmatter(meta, t.Description)); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}

	// Drop files left under an older slug.
	if files, err := s.taskFiles(t.ID); err == nil {
		for _, old := range files {
			if old != path {
				os.Remove(old)
			}
		}
	}
	return nil
}

func (s *FileStore) GetPlan(taskID string) (*Plan, error) {
	data, err := os.ReadFile(s.planPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	meta, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", taskID, err)
	}
	var p Plan
	if err := yaml.Unmarshal([]byte(meta), &p); err != nil {
		return nil, fmt.Errorf("plan %s: invalid frontmatter: %w", taskID, err)
	}
	p.TaskID = taskID
	p.Content = body
	return &p, nil
}

func (s *FileStore) SavePlan(p *Plan) error {
	meta, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s: %w", p.TaskID, err)
	}
	if err := writeAtomic(s.planPath(p.TaskID), joinFrontmatter(meta, p.Content)); err != nil {
		return fmt.Errorf("failed to save plan %s: %w", p.TaskID, err)
	}
	return nil
}

// DeletePlan removes a plan. Deleting a missing plan is not an error.
func (s *FileStore) DeletePlan(taskID string) error {
	err := os.Remove(s.planPath(taskID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) planPath(taskID string) string {
	return filepath.Join(s.PlansDir(), taskID+".md")
}

func (s *FileStore) findTaskFile(id string) (string, error) {
	exact := filepath.Join(s.TasksDir(), id+".md")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}
	files, err := s.taskFiles(id)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNotFound
	}
	return files[0], nil
}

// taskFiles returns every file holding task id.
func (s *FileStore) taskFiles(id string) ([]string, error) {
	var files []string
	exact := filepath.Join(s.TasksDir(), id+".md")
	if _, err := os.Stat(exact); err == nil {
		files = append(files, exact)
	}
	matches, err := filepath.Glob(filepath.Join(s.TasksDir(), id+"-*.md"))
	if err != nil {
		return nil, err
	}
	// A slug may itself contain the prefix of another ID; confirm by reading.
	for _, m := range matches {
		if t, err := readTaskFile(m); err == nil && t.ID == id {
			files = append(files, m)
		}
	}
	return files, nil
}

func taskFileName(t *Task) string {
	slug := util.Slug(t.Title)
	if slug == "" {
		return t.ID + ".md"
	}
	return t.ID + "-" + slug + ".md"
}

func readTaskFile(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	var t Task
	if err := yaml.Unmarshal([]byte(meta), &t); err != nil {
		return nil, fmt.Errorf("%s: invalid frontmatter: %w", filepath.Base(path), err)
	}
	t.Description = body
	return &t, nil
}

func joinFrontmatter(meta []byte, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(meta)
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes()
}

// splitFrontmatter extracts YAML front matter and the markdown body. The
// closing delimiter must start the line: indented "---" lines belong to
// block scalars such as multi-line notes.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\r") == "---" {
			frontmatter = strings.Join(lines[1:i], "\n")
			body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			return frontmatter, body, nil
		}
	}
	return "", "", fmt.Errorf("unclosed frontmatter")
}

// writeAtomic writes to a temp file then renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return err
	}
	return nil
}
