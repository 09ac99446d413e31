package pathglob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		// Exact paths
		{"src/main.go", "src/main.go", true},
		{"src/main.go", "src/other.go", false},

		// Single-segment star
		{"src/*", "src/main.go", true},
		{"src/*", "src/sub/main.go", false},
		{"src/*.go", "src/main.go", true},
		{"src/*.go", "src/main.ts", false},

		// Trailing /**
		{"src/**", "src/main.go", true},
		{"src/**", "src/sub/deep/main.go", true},
		{"src/**", "lib/main.go", false},
		{"src/**", "src", true}, // ** matches zero segments

		// Leading **
		{"**/main.go", "main.go", true},
		{"**/main.go", "src/sub/main.go", true},
		{"**/main.go", "src/main.ts", false},

		// Interior **
		{"src/**/test.go", "src/a/b/test.go", true},
		{"src/**/test.go", "src/test.go", true},
		{"src/**/test.go", "src/a/test.ts", false},

		// Question mark
		{"src/file?.go", "src/file1.go", true},
		{"src/file?.go", "src/file12.go", false},

		// Slash normalization
		{"src/sub/", "src/sub", true},
		{"src\\sub\\a.go", "src/sub/a.go", true},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.path); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"src/**", "src/file.ts", true},
		{"src/file.ts", "src/**", true},
		{"src/**", "lib/**", false},
		{"src/a.go", "src/a.go", true},
		{"src/*", "src/a.go", true},
		{"docs/**", "src/file.ts", false},
	}

	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsPattern(t *testing.T) {
	if !IsPattern("src/**") {
		t.Error("src/** should be a pattern")
	}
	if IsPattern("src/main.go") {
		t.Error("src/main.go should not be a pattern")
	}
}
