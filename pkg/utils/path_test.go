package utils

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty input is root", "", "/"},
		{"dot is root", ".", "/"},
		{"already rooted", "/a/b", "/a/b"},
		{"missing leading slash", "a/b", "/a/b"},
		{"trailing slash collapses", "/a/b/", "/a/b"},
		{"repeated slashes collapse", "/a//b", "/a/b"},
		{"dot segments resolve", "/a/./b", "/a/b"},
		{"parent segments resolve", "/a/b/../c", "/a/c"},
		{"root stays root", "/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsRoot(t *testing.T) {
	t.Parallel()

	if !IsRoot("/") {
		t.Error("IsRoot(\"/\") should be true")
	}
	if !IsRoot("") {
		t.Error("IsRoot(\"\") should be true")
	}
	if !IsRoot(".") {
		t.Error("IsRoot(\".\") should be true")
	}
	if IsRoot("/a") {
		t.Error("IsRoot(\"/a\") should be false")
	}
}

func TestDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"/a/b", "/a"},
		{"/a", "/"},
		{"/", "/"},
		{"", "/"},
		{"a/b/c", "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Dir(tt.input); got != tt.want {
				t.Errorf("Dir(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"/a/b", "b"},
		{"/a", "a"},
		{"/", ""},
		{"", ""},
		{"a/b/c", "c"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Base(tt.input); got != tt.want {
				t.Errorf("Base(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
