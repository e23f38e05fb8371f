package backup

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DetectChanges returns project-relative paths of files changed since
// the given time. When the project is a git repository, the candidate
// set is tracked plus untracked-not-ignored files; otherwise it is a
// plain walk with the exclude set. Either way, only files whose mtime
// passed since are reported.
func DetectChanges(root string, excludes map[string]bool, since time.Time) ([]string, error) {
	if candidates, ok := gitCandidates(root); ok {
		return filterChanged(root, candidates, excludes, since), nil
	}
	return walkChanged(root, excludes, since)
}

// gitCandidates lists tracked and untracked-not-ignored files via git.
func gitCandidates(root string) ([]string, bool) {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return nil, false
	}
	git, err := exec.LookPath("git")
	if err != nil {
		return nil, false
	}
	cmd := exec.Command(git, "-C", root, "ls-files", "--cached", "--others", "--exclude-standard")
	out, err := cmd.Output()
	if err != nil {
		return nil, false
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, filepath.FromSlash(line))
		}
	}
	return files, true
}

func filterChanged(root string, candidates []string, excludes map[string]bool, since time.Time) []string {
	var changed []string
	for _, rel := range candidates {
		if pathExcluded(rel, excludes) {
			continue
		}
		st, err := os.Stat(filepath.Join(root, rel))
		if err != nil || st.IsDir() {
			continue
		}
		if st.ModTime().After(since) {
			changed = append(changed, rel)
		}
	}
	return changed
}

func walkChanged(root string, excludes map[string]bool, since time.Time) ([]string, error) {
	var changed []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && excludes[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(since) {
			if rel, err := filepath.Rel(root, path); err == nil {
				changed = append(changed, rel)
			}
		}
		return nil
	})
	return changed, err
}

// pathExcluded reports whether any component of the relative path is in
// the exclude set.
func pathExcluded(rel string, excludes map[string]bool) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if excludes[part] {
			return true
		}
	}
	return false
}
