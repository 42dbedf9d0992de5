package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/relay-run/relay/internal/core"
)

// MarkdownSink implements core.ReportSink on the local filesystem. Each
// report is a directory of markdown files; section paths map to relative
// file paths inside it.
type MarkdownSink struct {
	root string
}

// NewMarkdownSink creates a sink rooted at dir.
func NewMarkdownSink(dir string) *MarkdownSink {
	return &MarkdownSink{root: dir}
}

// Create allocates a new report directory and returns its identity. The ID
// doubles as the directory name: a slug of the title plus a short unique
// suffix, so reports are both human-scannable and collision-free.
func (s *MarkdownSink) Create(ctx context.Context, title string) (string, error) {
	id := slugify(title)
	if id == "" {
		id = "report"
	}
	id = fmt.Sprintf("%s-%s", id, uuid.NewString()[:8])

	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	return id, nil
}

// WriteSections writes each section atomically under the report directory.
// Re-writing an existing path replaces it; sections arriving out of order is
// fine because each file stands alone.
func (s *MarkdownSink) WriteSections(ctx context.Context, reportID string, sections []core.Section) error {
	dir := filepath.Join(s.root, reportID)
	if _, err := os.Stat(dir); err != nil {
		return core.ErrNotFound("report", reportID)
	}

	for _, section := range sections {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := cleanSectionPath(section.Path)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("creating section directory: %w", err)
		}
		if err := atomicWriteFile(path, []byte(section.Content), 0o640); err != nil {
			return fmt.Errorf("writing section %s: %w", section.Path, err)
		}
	}
	return nil
}

// Path returns the filesystem location of a report.
func (s *MarkdownSink) Path(reportID string) string {
	return filepath.Join(s.root, reportID)
}

func cleanSectionPath(p string) (string, error) {
	if p == "" {
		return "", core.ErrValidation("INVALID_SECTION_PATH", "section path cannot be empty")
	}
	cleaned := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", core.ErrValidation("INVALID_SECTION_PATH",
			fmt.Sprintf("section path %q escapes the report directory", p))
	}
	return cleaned, nil
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 48 {
		out = strings.Trim(out[:48], "-")
	}
	return out
}
