// Package substitute rewrites tokens inside files on disk.
//
// Every write goes to a temporary file in the target's directory which is
// then renamed over the target, so the canonical path never holds a
// half-written file.
package substitute

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/core/tokens"
	"github.com/moby/sys/atomicwriter"
)

// TemplateSuffix is appended to a target path to locate its template.
const TemplateSuffix = ".template"

// Engine applies replacement sets to files.
type Engine struct {
	logger *slog.Logger

	// rewrite is swapped in tests to inject per-file failures.
	rewrite func(set domain.Replacements, src, dst string) error
}

// NewEngine creates a substitution engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger.With("component", "substitute")}
	e.rewrite = e.rewriteFile
	return e
}

// TreeReport summarizes a tree-wide substitution.
type TreeReport struct {
	Processed int
	Succeeded []string
	Failures  []domain.FileFailure
}

// =============================================================================
// Single File
// =============================================================================

// ReplaceInFile rewrites path in place.
func (e *Engine) ReplaceInFile(set domain.Replacements, path string) error {
	return e.rewrite(set, path, path)
}

// RenderTemplate creates target from target+".template". The template is
// only read.
func (e *Engine) RenderTemplate(set domain.Replacements, target string) error {
	src := target + TemplateSuffix
	e.logger.Debug("creating file from template", "template", src, "target", target)
	return e.rewrite(set, src, target)
}

func (e *Engine) rewriteFile(set domain.Replacements, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NewPipelineError("ReplaceInFile", src, "source file does not exist", domain.ErrTemplateMissing)
		}
		return domain.NewPipelineError("ReplaceInFile", src, err.Error(), err)
	}
	if !info.Mode().IsRegular() {
		return domain.NewPipelineError("ReplaceInFile", src, "not a regular file", domain.ErrTemplateMissing)
	}

	content, err := os.ReadFile(src)
	if err != nil {
		return domain.NewPipelineError("ReplaceInFile", src, err.Error(), err)
	}

	if err := atomicwriter.WriteFile(dst, tokens.ApplyBytes(content, set), info.Mode().Perm()); err != nil {
		return domain.NewPipelineError("ReplaceInFile", dst, err.Error(), domain.ErrWriteFailed)
	}
	return nil
}

// =============================================================================
// Tree
// =============================================================================

// ReplaceInTree rewrites, in place, every regular file under root whose base
// name matches pattern. A failing file is recorded and the walk continues.
// When any file fails the report is returned together with a
// *domain.SubstitutionError.
func (e *Engine) ReplaceInTree(set domain.Replacements, root string, pattern *regexp.Regexp) (*TreeReport, error) {
	e.logger.Info("replacing tokens", "root", root, "pattern", pattern.String())

	files, unreadable, err := matchingFiles(root, pattern)
	if err != nil {
		return nil, domain.NewPipelineError("ReplaceInTree", root, err.Error(), err)
	}

	report := &TreeReport{}
	for _, f := range unreadable {
		e.logger.Warn("cannot read directory", "dir", f.Path, "error", f.Err)
		report.Failures = append(report.Failures, f)
	}
	for _, path := range files {
		report.Processed++
		if err := e.rewrite(set, path, path); err != nil {
			e.logger.Warn("token replacement failed", "file", path, "error", err)
			report.Failures = append(report.Failures, domain.FileFailure{Path: path, Err: err})
			continue
		}
		e.logger.Debug("replaced tokens", "file", path)
		report.Succeeded = append(report.Succeeded, path)
	}

	e.logger.Info("replace complete", "files", report.Processed, "failed", len(report.Failures))

	if len(report.Failures) > 0 {
		return report, &domain.SubstitutionError{
			Root:      root,
			Processed: report.Processed,
			Failures:  report.Failures,
		}
	}
	return report, nil
}

// matchingFiles collects the walk first so files renamed during rewriting are
// never visited twice. Unreadable subdirectories are reported, not fatal.
func matchingFiles(root string, pattern *regexp.Regexp) ([]string, []domain.FileFailure, error) {
	var files []string
	var unreadable []domain.FileFailure
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			unreadable = append(unreadable, domain.FileFailure{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if pattern.MatchString(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, unreadable, err
}
