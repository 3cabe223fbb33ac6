package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordedSourceResolver(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing file", file, false},
		{"empty path", "", true},
		{"missing file", filepath.Join(dir, "gone.mp4"), true},
		{"directory", dir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordedSourceResolver{}.Resolve(context.Background(), &Job{ID: "j", SourcePath: tt.path})
			if tt.wantErr {
				if !errors.Is(err, ErrSourceNotFound) {
					t.Errorf("expected ErrSourceNotFound, got %v", err)
				}
				return
			}
			if err != nil || got != tt.path {
				t.Errorf("Resolve = %q, %v", got, err)
			}
		})
	}
}
