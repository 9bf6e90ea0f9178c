package exclude

import (
	"path"
	"strings"

	"github.com/dl-alexandre/odsync/internal/utils"
)

// Matcher decides which relative paths a mapping ignores on both sides.
type Matcher struct {
	patterns []string
}

// DefaultPatterns are excluded from every mapping. The temp suffix keeps
// half-written downloads from being picked up as local changes.
func DefaultPatterns() []string {
	return []string{
		".git/",
		".DS_Store",
		"._*",
		"desktop.ini",
		"Thumbs.db",
		"~$*",
		"*.tmp",
		"*" + utils.TempSuffix,
	}
}

// New builds a matcher from the defaults plus per-mapping patterns
func New(patterns []string) *Matcher {
	merged := append([]string{}, DefaultPatterns()...)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		merged = append(merged, p)
	}
	return &Matcher{patterns: merged}
}

// IsExcluded reports whether relPath is ignored. A trailing-slash pattern
// matches a directory and everything under it; glob patterns match the
// full path or the base name; plain patterns match exactly or as a prefix
// directory.
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")
	for _, p := range m.patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			dirPattern := strings.TrimSuffix(p, "/")
			if relPath == dirPattern || strings.HasPrefix(relPath, dirPattern+"/") {
				return true
			}
			continue
		}
		if strings.ContainsAny(p, "*?[]") {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			base := path.Base(relPath)
			if ok, _ := path.Match(p, base); ok {
				return true
			}
			continue
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if !isDir && path.Base(relPath) == p {
			return true
		}
	}
	return false
}
