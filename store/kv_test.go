package store

import (
	"context"
	"testing"
)

// kvUnderTest runs the shared contract tests against any KV implementation.
func kvUnderTest(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing keys report absent", func(t *testing.T) {
		if _, ok, err := kv.GetString(ctx, "nope"); ok || err != nil {
			t.Errorf("GetString missing: ok=%v err=%v", ok, err)
		}
		if _, ok, err := kv.GetInt(ctx, "nope"); ok || err != nil {
			t.Errorf("GetInt missing: ok=%v err=%v", ok, err)
		}
		if _, ok, err := kv.GetBool(ctx, "nope"); ok || err != nil {
			t.Errorf("GetBool missing: ok=%v err=%v", ok, err)
		}
	})

	t.Run("string roundtrip and overwrite", func(t *testing.T) {
		if err := kv.SetString(ctx, "name", "first"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := kv.SetString(ctx, "name", "second"); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		v, ok, err := kv.GetString(ctx, "name")
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if v != "second" {
			t.Errorf("expected overwrite to win, got %q", v)
		}
	})

	t.Run("int roundtrip", func(t *testing.T) {
		if err := kv.SetInt(ctx, "count", 42); err != nil {
			t.Fatalf("set: %v", err)
		}
		n, ok, err := kv.GetInt(ctx, "count")
		if err != nil || !ok || n != 42 {
			t.Errorf("got n=%d ok=%v err=%v", n, ok, err)
		}
	})

	t.Run("bool roundtrip", func(t *testing.T) {
		if err := kv.SetBool(ctx, "flag", true); err != nil {
			t.Fatalf("set: %v", err)
		}
		b, ok, err := kv.GetBool(ctx, "flag")
		if err != nil || !ok || !b {
			t.Errorf("got b=%v ok=%v err=%v", b, ok, err)
		}
	})

	t.Run("corrupt numeric reads as zero", func(t *testing.T) {
		if err := kv.SetString(ctx, "corrupt", "not a number"); err != nil {
			t.Fatalf("set: %v", err)
		}
		n, ok, err := kv.GetInt(ctx, "corrupt")
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if n != 0 {
			t.Errorf("expected corrupt int to read 0, got %d", n)
		}
		b, ok, err := kv.GetBool(ctx, "corrupt")
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if b {
			t.Error("expected corrupt bool to read false")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := kv.SetString(ctx, "gone", "x"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := kv.Delete(ctx, "gone"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok, _ := kv.GetString(ctx, "gone"); ok {
			t.Error("expected key absent after delete")
		}
		// Deleting a missing key is not an error.
		if err := kv.Delete(ctx, "gone"); err != nil {
			t.Errorf("delete missing: %v", err)
		}
	})
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()
	kvUnderTest(t, kv)
}

func TestSQLiteKV(t *testing.T) {
	kv, err := NewSQLiteKV(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()
	kvUnderTest(t, kv)
}

func TestSQLiteKVPersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/diag.db"

	kv, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := kv.SetInt(context.Background(), "launchAttempts", 2); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	kv, err = NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv.Close()
	n, ok, err := kv.GetInt(context.Background(), "launchAttempts")
	if err != nil || !ok || n != 2 {
		t.Errorf("expected persisted value 2, got n=%d ok=%v err=%v", n, ok, err)
	}
}
