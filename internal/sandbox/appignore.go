package sandbox

import (
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/px-dev/px/internal/canon"
)

// walkAppTree walks srcRoot and returns a canon.Entry per file/dir/symlink,
// skipping anything matched by a root .gitignore (if present) and the
// .git directory itself, grounded on the teacher's
// gitignore.CompileIgnoreFile/MatchesPath use in its Tekton pipeline
// provider (the only gitignore-consumer in the pack).
func walkAppTree(srcRoot string) ([]canon.Entry, error) {
	var matcher *gitignore.GitIgnore
	if gi, err := gitignore.CompileIgnoreFile(filepath.Join(srcRoot, ".gitignore")); err == nil {
		matcher = gi
	}

	all, err := canon.WalkTree(srcRoot)
	if err != nil {
		return nil, err
	}

	entries := make([]canon.Entry, 0, len(all))
	for _, e := range all {
		if e.Path == ".git" || hasPathPrefix(e.Path, ".git") {
			continue
		}
		if matcher != nil && matcher.MatchesPath(e.Path) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func hasPathPrefix(p, prefix string) bool {
	return p == prefix || len(p) > len(prefix) && p[:len(prefix)+1] == prefix+string(filepath.Separator)
}
