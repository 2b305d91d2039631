package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestStores(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{
			name: "memory",
			open: func(t *testing.T) Store { return NewMemoryStore() },
		},
		{
			name: "redis",
			open: func(t *testing.T) Store {
				srv := miniredis.RunT(t)
				s, err := NewRedisStore(srv.Addr(), "", "test:")
				if err != nil {
					t.Fatalf("new redis store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "snapshots.db"), "test:")
				if err != nil {
					t.Fatalf("open sqlite: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.open(t)

			if _, ok, err := s.Get(ctx, KeyReports); err != nil || ok {
				t.Fatalf("get missing = ok:%v err:%v, want absent", ok, err)
			}
			if err := s.Set(ctx, KeyReports, []byte(`[1]`)); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.Set(ctx, KeyReports, []byte(`[1,2]`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, ok, err := s.Get(ctx, KeyReports)
			if err != nil || !ok {
				t.Fatalf("get = ok:%v err:%v", ok, err)
			}
			if string(got) != `[1,2]` {
				t.Fatalf("value = %s, want [1,2]", got)
			}
			if err := s.Delete(ctx, KeyReports); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, KeyReports); ok {
				t.Fatalf("expected key to be deleted")
			}
			if err := s.Delete(ctx, KeyReports); err != nil {
				t.Fatalf("delete missing key: %v", err)
			}
		})
	}
}

func TestSQLitePrefixIsolatesDeployments(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	blue, err := OpenSQLite(path, "blue:")
	if err != nil {
		t.Fatalf("open blue: %v", err)
	}
	t.Cleanup(func() { _ = blue.Close() })
	green, err := OpenSQLite(path, "green:")
	if err != nil {
		t.Fatalf("open green: %v", err)
	}
	t.Cleanup(func() { _ = green.Close() })

	if err := blue.Set(ctx, KeyReports, []byte(`["blue"]`)); err != nil {
		t.Fatalf("set blue: %v", err)
	}
	if _, ok, err := green.Get(ctx, KeyReports); err != nil || ok {
		t.Fatalf("green sees blue key: ok=%v err=%v", ok, err)
	}
	if err := green.Delete(ctx, KeyReports); err != nil {
		t.Fatalf("delete green: %v", err)
	}
	got, ok, err := blue.Get(ctx, KeyReports)
	if err != nil || !ok || string(got) != `["blue"]` {
		t.Fatalf("blue = %s ok=%v err=%v", got, ok, err)
	}

	var key string
	if err := blue.db.QueryRowContext(ctx, `SELECT key FROM snapshots`).Scan(&key); err != nil {
		t.Fatalf("scan key: %v", err)
	}
	if key != "blue:"+KeyReports {
		t.Fatalf("stored key = %q", key)
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type doc struct {
		Name string `json:"name"`
	}
	if err := SaveJSON(ctx, s, "doc", doc{Name: "a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var out doc
	ok, err := LoadJSON(ctx, s, "doc", &out)
	if err != nil || !ok {
		t.Fatalf("load = ok:%v err:%v", ok, err)
	}
	if out.Name != "a" {
		t.Fatalf("name = %q, want a", out.Name)
	}

	_ = s.Set(ctx, "bad", []byte(`{not json`))
	ok, err = LoadJSON(ctx, s, "bad", &out)
	var decodeErr *DecodeError
	if !ok || !errors.As(err, &decodeErr) {
		t.Fatalf("load malformed = ok:%v err:%v, want DecodeError", ok, err)
	}
	if decodeErr.Key != "bad" {
		t.Fatalf("decode error key = %q", decodeErr.Key)
	}

	ok, err = LoadJSON(ctx, s, "missing", &out)
	if ok || err != nil {
		t.Fatalf("load missing = ok:%v err:%v", ok, err)
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(" ", "", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestWidgetChangesKey(t *testing.T) {
	if got := WidgetChangesKey("report-1"); got != "datapivots-widget-changes:report-1" {
		t.Fatalf("key = %q", got)
	}
}
