package exclude

import "testing"

func TestMatcher_Defaults(t *testing.T) {
	m := New(nil)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{".git/config", false, true},
		{"sub/.git/config", false, false}, // only a top-level .git is covered by the default
		{".DS_Store", false, true},
		{"docs/.DS_Store", false, true},
		{"._resource", false, true},
		{"~$report.docx", false, true},
		{"scratch.tmp", false, true},
		{"video.mp4.odsync-tmp", false, true},
		{"report.docx", false, false},
		{"docs", true, false},
		{"report.conflict-local.docx", false, false},
	}

	for _, tt := range tests {
		if got := m.IsExcluded(tt.path, tt.isDir); got != tt.want {
			t.Errorf("IsExcluded(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestMatcher_MappingPatterns(t *testing.T) {
	m := New([]string{"node_modules/", "*.log", "build", "  ", ""})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"node_modules", true, true},
		{"node_modules/pkg/index.js", false, true},
		{"app.log", false, true},
		{"logs/app.log", false, true},
		{"build", true, true},
		{"build/out.bin", false, true},
		{"builder/x.txt", false, false},
		{"src/main.go", false, false},
	}

	for _, tt := range tests {
		if got := m.IsExcluded(tt.path, tt.isDir); got != tt.want {
			t.Errorf("IsExcluded(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestMatcher_NilMatchesNothing(t *testing.T) {
	var m *Matcher
	if m.IsExcluded("anything", false) {
		t.Error("nil matcher must exclude nothing")
	}
}
