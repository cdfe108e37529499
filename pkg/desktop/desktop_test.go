package desktop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "Aurora.png")
	if err := os.WriteFile(img, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"regular file", img, false},
		{"directory", dir, true},
		{"missing", filepath.Join(dir, "missing.png"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkImage(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkImage(%s) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if !tt.wantErr && !filepath.IsAbs(got) {
				t.Errorf("expected absolute path, got %s", got)
			}
		})
	}
}
