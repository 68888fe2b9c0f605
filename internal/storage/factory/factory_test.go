package factory

import (
	"context"
	"testing"

	"github.com/steveyegge/converge/internal/storage/file"
	"github.com/steveyegge/converge/internal/storage/memory"
	"github.com/steveyegge/converge/internal/storage/sqlstore"
)

func TestNewBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(ctx, Options{Dir: dir})
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := s.(*file.Store); !ok {
		t.Errorf("default backend = %T, want *file.Store", s)
	}

	s, err = New(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("memory backend = %T", s)
	}

	s, err = New(ctx, Options{Backend: BackendSQLite, Dir: dir})
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*sqlstore.Store); !ok {
		t.Errorf("sqlite backend = %T", s)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Options{Backend: "dolt"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := New(context.Background(), Options{Backend: BackendMySQL}); err == nil {
		t.Error("expected error for mysql without DSN")
	}
}
