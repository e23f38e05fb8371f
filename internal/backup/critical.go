package backup

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const criticalScanDepth = 2

// CriticalFiles enumerates the always-capture set: files worth saving
// even when gitignored, selected by the capture flags. Missing targets
// are silently absent from the result.
func CriticalFiles(root string, flags CaptureFlags, excludes map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(rel string) {
		if !seen[rel] {
			seen[rel] = true
			out = append(out, rel)
		}
	}

	walkShallow(root, criticalScanDepth, excludes, func(rel string, d fs.DirEntry) {
		base := d.Name()
		switch {
		case flags.Env && strings.HasPrefix(base, ".env"):
			add(rel)
		case flags.Credentials && isCredentialFile(base):
			add(rel)
		case flags.Notes && isNotesFile(base):
			add(rel)
		}
	})

	if flags.IDE {
		for _, dir := range []string{".vscode", ".idea"} {
			addDirFiles(root, dir, add)
		}
	}
	if flags.AIArtifacts {
		for _, dir := range []string{".claude", ".cursor", ".aider"} {
			addDirFiles(root, dir, add)
		}
	}
	return out
}

func isCredentialFile(base string) bool {
	switch {
	case strings.HasSuffix(base, ".pem"), strings.HasSuffix(base, ".key"),
		strings.HasSuffix(base, ".p12"), strings.HasSuffix(base, ".token"):
		return true
	case base == ".netrc", base == ".npmrc", base == ".pgpass":
		return true
	case strings.HasPrefix(base, "id_rsa"), strings.HasPrefix(base, "id_ed25519"):
		return true
	case strings.HasPrefix(base, "credentials") && (strings.HasSuffix(base, ".json") || strings.HasSuffix(base, ".toml")):
		return true
	}
	return false
}

func isNotesFile(base string) bool {
	upper := strings.ToUpper(base)
	return strings.HasPrefix(upper, "NOTES") || strings.HasPrefix(upper, "TODO")
}

// walkShallow visits regular files up to depth levels below root.
func walkShallow(root string, depth int, excludes map[string]bool, visit func(rel string, d fs.DirEntry)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		level := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			if excludes[d.Name()] || level >= depth {
				return filepath.SkipDir
			}
			return nil
		}
		visit(rel, d)
		return nil
	})
}

// addDirFiles captures every regular file under a root-level directory.
func addDirFiles(root, dir string, add func(rel string)) {
	base := filepath.Join(root, dir)
	if st, err := os.Stat(base); err != nil || !st.IsDir() {
		return
	}
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			add(rel)
		}
		return nil
	})
}
