package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/wang/ast"
	"github.com/chazu/wang/vm"
	"github.com/chazu/wang/vm/wire"
)

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "snapshots.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// paused returns the snapshot of a loop paused part way through.
func paused(t *testing.T) *vm.Snapshot {
	t.Helper()
	prog := ast.Prog(
		ast.Let("total", ast.Num(0)),
		ast.For(ast.Let("i", ast.Num(1)), ast.Bin("<=", ast.Ident("i"), ast.Num(4)), ast.Update("++", false, ast.Ident("i")),
			ast.Expr(ast.AssignOp("+=", ast.Ident("total"), ast.Ident("i")))),
		ast.Expr(ast.Ident("total")),
	)
	interp := vm.New()
	interp.PauseAfter(5)
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, vm.ErrPaused) {
		t.Fatalf("Execute: %v, want paused", err)
	}
	snap, err := interp.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return snap
}

func resume(t *testing.T, snap *vm.Snapshot) any {
	t.Helper()
	interp, err := vm.Deserialize(snap)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	v, err := interp.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	return vm.Export(v)
}

func TestSaveLoad(t *testing.T) {
	for _, format := range []wire.Format{wire.FormatJSON, wire.FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			s := openStore(t, WithFormat(format))
			ctx := context.Background()
			snap := paused(t)

			id, err := s.Save(ctx, "", "nightly", snap)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, rec, err := s.Load(ctx, id)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if rec.ID != id || rec.Label != "nightly" || rec.Phase != vm.PhasePaused || rec.Format != format {
				t.Errorf("record = %+v", rec)
			}
			if rec.Operations != snap.Operations || rec.Size == 0 || len(rec.Digest) != 64 {
				t.Errorf("record = %+v", rec)
			}
			if v := resume(t, got); !reflect.DeepEqual(v, 10.0) {
				t.Errorf("resumed result = %#v, want 10", v)
			}
		})
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, "", "first", paused(t))
	if err != nil {
		t.Fatal(err)
	}
	before, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}

	interp := vm.New()
	if _, err := interp.Execute(ctx, ast.Prog(ast.Expr(ast.Num(3)))); err != nil {
		t.Fatal(err)
	}
	done, err := interp.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, id, "second", done); err != nil {
		t.Fatalf("Save over %s: %v", id, err)
	}
	after, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if after.Phase != vm.PhaseCompleted || after.Label != "second" {
		t.Errorf("record = %+v", after)
	}
	if !after.Created.Equal(before.Created) {
		t.Errorf("created changed: %v -> %v", before.Created, after.Created)
	}
	if after.Digest == before.Digest {
		t.Error("digest unchanged after replacing the body")
	}
}

func TestListFindDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		id, err := s.Save(ctx, "", "", paused(t))
		if err != nil {
			t.Fatal(err)
		}
		ids[id] = true
	}
	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("List returned %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if !ids[rec.ID] {
			t.Errorf("unexpected id %s", rec.ID)
		}
		if i > 0 && rec.Updated.After(recs[i-1].Updated) {
			t.Errorf("records not ordered by update time")
		}
	}

	id := recs[0].ID
	found, err := s.Find(ctx, id[:18])
	if err != nil || found != id {
		t.Errorf("Find(%s) = %q, %v", id[:18], found, err)
	}
	if _, err := s.Find(ctx, "zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(zz) error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete: %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: %v, want ErrNotFound", err)
	}
}

func TestSaveRejects(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, "", "", nil); err == nil {
		t.Error("saved a nil snapshot")
	}
	if _, err := s.Save(ctx, "not-a-uuid", "", paused(t)); err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Errorf("error = %v, want invalid id", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	s, err := Open(path, WithFormat(wire.FormatCBOR))
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Save(ctx, "", "", paused(t))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	// The reader's default format does not matter: the body says what it is.
	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	snap, _, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if v := resume(t, snap); !reflect.DeepEqual(v, 10.0) {
		t.Errorf("resumed result = %#v, want 10", v)
	}
}
