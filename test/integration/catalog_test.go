// Package integration provides tests that run the catalog against a real SQLite metastore on disk.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/keyword"
	"github.com/hyperjump/indexdef/internal/storage"
)

const testdata = "../../internal/indexconfig/testdata"

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIntegration_MetastoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "metastore.db")
	configDir := filepath.Join(dir, "indexes")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}
	copyFile(t, filepath.Join(testdata, "gh-archive.yaml"), filepath.Join(configDir, "gh-archive.yaml"))
	ctx := context.Background()

	store, err := storage.NewSQLiteMetastore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	n, err := catalog.New(store).ApplyDirectory(ctx, configDir, nil, true)
	if err != nil || n != 1 {
		t.Fatalf("ApplyDirectory = %d, %v", n, err)
	}
	before, err := store.GetIndex(ctx, "gh-archive")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = storage.NewSQLiteMetastore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	after, err := store.GetIndex(ctx, "gh-archive")
	if err != nil {
		t.Fatal(err)
	}
	if after.IndexUID != before.IndexUID {
		t.Errorf("index uid changed across restart: %s -> %s", before.IndexUID, after.IndexUID)
	}

	want, err := indexconfig.Load(filepath.Join(testdata, "gh-archive.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	indexconfig.ApplyDefaults(want)
	if diff := cmp.Diff(want, after.Config, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("stored config mismatch (-want +got):\n%s", diff)
	}

	// Re-applying the unchanged directory is a no-op.
	n, err = catalog.New(store).ApplyDirectory(ctx, configDir, nil, true)
	if err != nil || n != 1 {
		t.Fatalf("second ApplyDirectory = %d, %v", n, err)
	}
	again, err := store.GetIndex(ctx, "gh-archive")
	if err != nil {
		t.Fatal(err)
	}
	if !again.UpdatedAt.Equal(after.UpdatedAt) {
		t.Errorf("unchanged apply touched updated_at: %v -> %v", after.UpdatedAt, again.UpdatedAt)
	}
}

func TestIntegration_DirectoryWithBrokenConfigAndPreview(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, "indexes")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}
	copyFile(t, filepath.Join(testdata, "gh-archive.yaml"), filepath.Join(configDir, "gh-archive.yaml"))
	broken := "version: 0.7\nindex_id: broken\ndoc_mapping:\n  field_mappings:\n    - name: a\n      type: text\n    - name: a\n      type: u64\n"
	if err := os.WriteFile(filepath.Join(configDir, "broken.yml"), []byte(broken), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "README.md"), []byte("not a config"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewSQLiteMetastore(filepath.Join(dir, "metastore.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	cat := catalog.New(store)
	ctx := context.Background()

	n, err := cat.ApplyDirectory(ctx, configDir, nil, true)
	if n != 1 {
		t.Errorf("applied %d configs, want 1", n)
	}
	if err == nil || !strings.Contains(err.Error(), "duplicate field name") {
		t.Errorf("expected duplicate field error, got %v", err)
	}
	if count, _ := cat.CountIndexes(ctx); count != 1 {
		t.Errorf("CountIndexes = %d, want 1", count)
	}

	docs, err := os.Open(filepath.Join(testdata, "gh-archive.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	defer docs.Close()
	res, err := cat.Preview(ctx, "gh-archive", docs, keyword.SearchRequest{Query: "type:IssuesEvent"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.NumValid != 3 {
		t.Errorf("summary: %+v", res.Summary)
	}
	if res.Search == nil || res.Search.Total != 1 {
		t.Errorf("search: %+v", res.Search)
	}
}
