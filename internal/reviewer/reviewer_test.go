package reviewer

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(""), 0o644); err != nil {
		t.Fatalf("touch %s: %v", name, err)
	}
}

func TestDetectTestCommandPriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"rust wins over everything", []string{"Cargo.toml", "package.json", "yarn.lock"}, "cargo test"},
		{"yarn over pnpm and npm", []string{"package.json", "yarn.lock", "pnpm-lock.yaml"}, "yarn test"},
		{"pnpm over npm", []string{"package.json", "pnpm-lock.yaml"}, "pnpm test"},
		{"npm default for node", []string{"package.json"}, "npm test"},
		{"python via pyproject", []string{"pyproject.toml"}, "python3 -m pytest"},
		{"python via requirements", []string{"requirements.txt"}, "python3 -m pytest"},
		{"default when nothing recognized", nil, "python3 -m pytest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				touch(t, dir, f)
			}
			got := DetectTestCommand(dir)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectTestCommandIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")
	touch(t, dir, "pnpm-lock.yaml")

	first := DetectTestCommand(dir)
	for i := 0; i < 10; i++ {
		if got := DetectTestCommand(dir); got != first {
			t.Fatalf("non-deterministic result: %q vs %q", got, first)
		}
	}
}
