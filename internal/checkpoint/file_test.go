package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/xzhHas/configflow/internal/changefeed"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configflow.checkpoint")
	s := NewFileStore(path, rejectShort, zap.NewNop())
	ctx := context.Background()

	tok, err := s.Load(ctx)
	if err != nil || tok != nil {
		t.Fatalf("missing file must load as absent: %v %v", tok, err)
	}
	if err := s.Save(ctx, changefeed.ResumeToken("position-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, changefeed.ResumeToken("position-2")); err != nil {
		t.Fatal(err)
	}
	tok, err = s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(tok) != "position-2" {
		t.Fatalf("unexpected token %q", tok)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configflow.checkpoint")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path, rejectShort, zap.NewNop())
	tok, err := s.Load(context.Background())
	if err != nil || tok != nil {
		t.Fatalf("corrupt file must load as absent: %v %v", tok, err)
	}
}
