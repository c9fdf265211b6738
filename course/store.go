package course

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	runsSubdir         = "runs"
	sessionsSubdir     = "sessions"
	intermediateSubdir = "intermediate"
	coursesSubdir      = "courses"
	courseFileName     = "course.json"
	transcriptFileName = "conversation.json"

	// CoursePlanFile is the checkpoint name for the run's top-level outline.
	CoursePlanFile = "course_plan.json"
)

// Store owns the on-disk layout of a data root:
//
//	<root>/runs/<run_id>/intermediate/*.json   per-step checkpoints
//	<root>/runs/<run_id>/courses/course.json   assembled course
//	<root>/sessions/<run_id>/conversation.json assessment transcript
//
// Checkpoints double as resume state: a step whose file exists is skipped
// on retry, and progress snapshots are rebuilt from them after a restart.
type Store struct {
	root string
}

// NewStore creates the data root directories if needed.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(root, runsSubdir),
		filepath.Join(root, sessionsSubdir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating data directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// RunDir returns the directory owning all artifacts of one run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runsSubdir, runID)
}

func (s *Store) intermediateDir(runID string) string {
	return filepath.Join(s.RunDir(runID), intermediateSubdir)
}

func (s *Store) coursesDir(runID string) string {
	return filepath.Join(s.RunDir(runID), coursesSubdir)
}

func (s *Store) sessionDir(runID string) string {
	return filepath.Join(s.root, sessionsSubdir, runID)
}

// ChapterPlanFile names the checkpoint for one chapter's page plan.
func ChapterPlanFile(module, chapter string) string {
	return fmt.Sprintf("chapter_plan_%s_%s.json", sanitize(module), sanitize(chapter))
}

// PageFile names the checkpoint for one generated page (1-based).
func PageFile(module, chapter string, page int) string {
	return fmt.Sprintf("page_%s_%s_%d.json", sanitize(module), sanitize(chapter), page)
}

// SummaryFile names the checkpoint for a module summary.
func SummaryFile(module string) string {
	return fmt.Sprintf("summary_%s.json", sanitize(module))
}

// QuizFile names the checkpoint for a module quiz.
func QuizFile(module string) string {
	return fmt.Sprintf("quiz_%s.json", sanitize(module))
}

// sanitize keeps model-authored module and chapter names safe to embed in
// file names. Spaces survive; separators and control characters do not.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == 0:
			return '_'
		case r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)
}

// WriteCheckpoint marshals v into the run's intermediate directory. The
// write is atomic so a crashed run never leaves a half-written checkpoint.
func (s *Store) WriteCheckpoint(runID, name string, v any) error {
	dir := s.intermediateDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating intermediate directory: %w", err)
	}
	return writeJSONFile(filepath.Join(dir, name), v)
}

// ReadCheckpoint unmarshals a checkpoint into v. Returns false with a nil
// error when the checkpoint does not exist.
func (s *Store) ReadCheckpoint(runID, name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.intermediateDir(runID), name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error reading checkpoint %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("error decoding checkpoint %s: %w", name, err)
	}
	return true, nil
}

// HasCheckpoint reports whether the named checkpoint exists for the run.
func (s *Store) HasCheckpoint(runID, name string) bool {
	_, err := os.Stat(filepath.Join(s.intermediateDir(runID), name))
	return err == nil
}

// CountPages returns how many page checkpoints exist for a chapter.
func (s *Store) CountPages(runID, module, chapter string) int {
	pattern := filepath.Join(s.intermediateDir(runID),
		fmt.Sprintf("page_%s_%s_*.json", sanitize(module), sanitize(chapter)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0
	}
	return len(matches)
}

// WriteCourse persists the assembled course as the run's final artifact.
func (s *Store) WriteCourse(runID string, c *Course) error {
	dir := s.coursesDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating courses directory: %w", err)
	}
	return writeJSONFile(filepath.Join(dir, courseFileName), c)
}

// ReadCourse loads the run's final course with its run_id injected.
func (s *Store) ReadCourse(runID string) (*Course, error) {
	data, err := os.ReadFile(filepath.Join(s.coursesDir(runID), courseFileName))
	if err != nil {
		return nil, fmt.Errorf("error reading course for run %s: %w", runID, err)
	}
	var c Course
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("error decoding course for run %s: %w", runID, err)
	}
	c.RunID = runID
	return &c, nil
}

// HasCourse reports whether the run produced a final course file.
func (s *Store) HasCourse(runID string) bool {
	_, err := os.Stat(filepath.Join(s.coursesDir(runID), courseFileName))
	return err == nil
}

// ListRuns returns the course of every run that finished assembly, newest
// first by created_at. Unreadable runs are skipped.
func (s *Store) ListRuns() ([]Course, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runsSubdir))
	if os.IsNotExist(err) {
		return []Course{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error listing runs directory: %w", err)
	}

	runs := make([]Course, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := s.ReadCourse(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *c)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// WriteTranscript archives the finished assessment conversation for a run.
func (s *Store) WriteTranscript(runID string, v any) error {
	dir := s.sessionDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}
	return writeJSONFile(filepath.Join(dir, transcriptFileName), v)
}

// ReadTranscript loads an archived conversation. Returns false with a nil
// error when none was written.
func (s *Store) ReadTranscript(runID string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(runID), transcriptFileName))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error reading transcript for run %s: %w", runID, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("error decoding transcript for run %s: %w", runID, err)
	}
	return true, nil
}

// writeJSONFile writes v to path via a temp file and rename.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
