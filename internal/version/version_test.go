package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("Get() returned empty version")
	}
	if strings.TrimSpace(v) != v {
		t.Errorf("Get() = %q, want trimmed", v)
	}
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.2.3",
		Commit:    "0123456789abcdef0123",
		Modified:  true,
		GoVersion: "go1.25.0",
		Platform:  "linux/amd64",
	}
	want := "verifix 1.2.3 (0123456789ab, modified) go1.25.0 linux/amd64"
	if got := info.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	info.Commit = ""
	if got := info.String(); got != "verifix 1.2.3 go1.25.0 linux/amd64" {
		t.Errorf("String() without commit = %q", got)
	}
}

func TestRead(t *testing.T) {
	info := Read()
	if info.Version != Get() {
		t.Errorf("Version = %q, want %q", info.Version, Get())
	}
	if info.GoVersion == "" || info.Platform == "" {
		t.Errorf("Read() = %+v", info)
	}
}
