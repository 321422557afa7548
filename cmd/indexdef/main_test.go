package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/config"
	"github.com/hyperjump/indexdef/internal/models"
	"github.com/hyperjump/indexdef/internal/server"
	"github.com/hyperjump/indexdef/internal/storage"
	"go.uber.org/zap"
)

const (
	ghArchiveConfig = "../../internal/indexconfig/testdata/gh-archive.yaml"
	ghArchiveDocs   = "../../internal/indexconfig/testdata/gh-archive.ndjson"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func readGHArchive(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(ghArchiveConfig)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestArgsReorder(t *testing.T) {
	bools := map[string]bool{"fuzzy": true}
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after file are moved first",
			args:     []string{"logs.yaml", "--output", "json"},
			expected: []string{"--output", "json", "logs.yaml"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--output", "json", "logs.yaml"},
			expected: []string{"--output", "json", "logs.yaml"},
		},
		{
			name:     "bool flag takes no value",
			args:     []string{"docs.ndjson", "--fuzzy", "--limit", "5"},
			expected: []string{"--fuzzy", "--limit", "5", "docs.ndjson"},
		},
		{
			name:     "inline value",
			args:     []string{"a.yaml", "--output=yaml", "b.yaml"},
			expected: []string{"--output=yaml", "a.yaml", "b.yaml"},
		},
		{
			name:     "double dash ends flags",
			args:     []string{"--limit", "1", "--", "--odd-name.yaml"},
			expected: []string{"--limit", "1", "--", "--odd-name.yaml"},
		},
		{
			name:     "stdin marker is positional",
			args:     []string{"-", "--output", "json"},
			expected: []string{"--output", "json", "-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args, bools)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug || cfg.Server.Port != 8080 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", `
server:
  host: "127.0.0.1"
  port: 9000
`)
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestRun_versionAndUnknown(t *testing.T) {
	code, out, _ := runCLI(t, "", "version")
	if code != 0 || !strings.Contains(out, "indexdef version") {
		t.Errorf("version: code %d, out %q", code, out)
	}
	code, _, errOut := runCLI(t, "", "frobnicate")
	if code != 1 || !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Errorf("unknown: code %d, stderr %q", code, errOut)
	}
	if code, _, _ := runCLI(t, ""); code != 1 {
		t.Errorf("no args: code %d, want 1", code)
	}
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	invalid := writeFile(t, dir, "bad.yaml", strings.Replace(readGHArchive(t), "commit_timeout_secs: 10", "commit_timeout_secs: -5", 1))
	zero := writeFile(t, dir, "zero.yaml", strings.Replace(readGHArchive(t), "commit_timeout_secs: 10", "commit_timeout_secs: 0", 1))
	unknown := writeFile(t, dir, "typo.yaml", strings.Replace(readGHArchive(t), "timestamp_field: created_at", "timestamp_field: create_at", 1))

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"gh-archive", []string{"validate", ghArchiveConfig}, 0, "gh-archive: OK"},
		{"negative timeout", []string{"validate", invalid}, 1, "commit_timeout_secs"},
		{"zero timeout", []string{"validate", zero}, 1, "must be a positive integer, got 0"},
		{"did you mean", []string{"validate", unknown}, 1, `did you mean "created_at"?`},
		{"one bad of two", []string{"validate", ghArchiveConfig, invalid}, 1, "gh-archive: OK"},
		{"missing file", []string{"validate", filepath.Join(dir, "nope.yaml")}, 1, "index config"},
		{"no args", []string{"validate"}, 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, "", tt.args...)
			if code != tt.code {
				t.Fatalf("code: got %d, want %d (stdout %q, stderr %q)", code, tt.code, out, errOut)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("stdout %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestRunValidate_jsonOutput(t *testing.T) {
	code, out, _ := runCLI(t, "", "validate", ghArchiveConfig, "--output", "json")
	if code != 0 {
		t.Fatalf("code %d", code)
	}
	var report models.ValidationReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.IndexID != "gh-archive" {
		t.Errorf("report: %+v", report)
	}
}

func TestRunDescribe(t *testing.T) {
	code, out, _ := runCLI(t, "", "describe", ghArchiveConfig)
	if code != 0 {
		t.Fatalf("code %d", code)
	}
	for _, want := range []string{"Index:           gh-archive", "created_at (timestamp)", "Commit timeout:  10s", "Fields:          9"} {
		if !strings.Contains(out, want) {
			t.Errorf("describe output missing %q:\n%s", want, out)
		}
	}
}

func TestRunConvert(t *testing.T) {
	code, out, errOut := runCLI(t, "", "convert", "--to", "json", ghArchiveConfig)
	if code != 0 {
		t.Fatalf("code %d: %s", code, errOut)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("convert output is not JSON: %v", err)
	}
	if doc["index_id"] != "gh-archive" {
		t.Errorf("index_id: got %v", doc["index_id"])
	}

	dir := t.TempDir()
	outPath := filepath.Join(dir, "gh-archive.json")
	if code, _, errOut := runCLI(t, "", "convert", ghArchiveConfig, "--out", outPath); code != 0 {
		t.Fatalf("convert --out: code %d: %s", code, errOut)
	}
	// Converting back must validate.
	if code, out, _ := runCLI(t, "", "validate", outPath); code != 0 {
		t.Errorf("round trip did not validate: %s", out)
	}

	if code, _, _ := runCLI(t, "", "convert", "--to", "toml", ghArchiveConfig); code != 2 {
		t.Errorf("toml: code %d, want 2", code)
	}
	if code, _, _ := runCLI(t, "", "convert", "--to", "yaml", "--out", outPath, ghArchiveConfig); code != 2 {
		t.Errorf("mismatched --out: code %d, want 2", code)
	}
}

func TestRunParse(t *testing.T) {
	code, out, errOut := runCLI(t, "", "parse", "--index-config", ghArchiveConfig, ghArchiveDocs)
	if code != 0 {
		t.Fatalf("code %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Parsed 3 document(s): 3 valid, 0 rejected") {
		t.Errorf("unexpected output: %s", out)
	}

	stdin := `{"id":"1","type":"PushEvent","created_at":"2023-01-01T15:00:00Z"}
{"id":"2","type":"PushEvent"}
`
	code, out, _ = runCLI(t, stdin, "parse", "--index-config", ghArchiveConfig, "-")
	if code != 1 {
		t.Fatalf("code %d, want 1", code)
	}
	if !strings.Contains(out, "1 valid, 1 rejected") || !strings.Contains(out, "line 2") {
		t.Errorf("unexpected output: %s", out)
	}

	if code, _, _ := runCLI(t, "", "parse", ghArchiveDocs); code != 2 {
		t.Errorf("missing --index-config: code %d, want 2", code)
	}
}

func TestRunPreview(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"term", []string{"--query", "type:PushEvent"}, 0, "Found 1 hit(s)"},
		{"all", nil, 0, "Found 3 hit(s)"},
		{"time range", []string{"--start", "2023-01-01T15:00:01Z", "--end", "1672585202"}, 0, "Found 1 hit(s)"},
		{"bad time", []string{"--start", "yesterday"}, 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"preview", "--index-config", ghArchiveConfig, ghArchiveDocs}, tt.args...)
			code, out, errOut := runCLI(t, "", args...)
			if code != tt.code {
				t.Fatalf("code: got %d, want %d (stderr %q)", code, tt.code, errOut)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("stdout %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("start", "")
	if err != nil || got != nil {
		t.Errorf("empty: got %v, %v", got, err)
	}
	got, err = parseTimeFlag("start", "1672585200")
	if err != nil || !got.Equal(time.Date(2023, 1, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("unix: got %v, %v", got, err)
	}
	got, err = parseTimeFlag("end", "2023-01-01T17:00:00+02:00")
	if err != nil || !got.Equal(time.Date(2023, 1, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("rfc3339: got %v, %v", got, err)
	}
	if _, err := parseTimeFlag("end", "tomorrow"); err == nil || !strings.Contains(err.Error(), "--end") {
		t.Errorf("invalid: got %v", err)
	}
}

type stubWatch struct {
	mu   sync.Mutex
	dirs []string
}

func (s *stubWatch) Directories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dirs...)
}

func (s *stubWatch) AddDirectory(path string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, path)
	return nil
}

func (s *stubWatch) RemoveDirectory(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.dirs {
		if d == path {
			s.dirs = append(s.dirs[:i], s.dirs[i+1:]...)
			break
		}
	}
	return nil
}

func newTestAPI(t *testing.T, watch server.WatchService) string {
	t.Helper()
	cfg := &config.Config{Storage: config.StorageConfig{DatabasePath: filepath.Join(t.TempDir(), "metastore.db")}}
	config.ApplyDefaults(cfg)
	store, err := storage.NewSQLiteMetastore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv := server.NewServer(catalog.New(store), cfg, zap.NewNop(), watch, "", "test")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRunIndex_lifecycle(t *testing.T) {
	url := newTestAPI(t, nil)

	code, out, errOut := runCLI(t, "", "index", "create", ghArchiveConfig, "--server", url)
	if code != 0 || !strings.Contains(out, "Index created: gh-archive (gh-archive:") {
		t.Fatalf("create: code %d, out %q, err %q", code, out, errOut)
	}
	code, _, errOut = runCLI(t, "", "index", "create", ghArchiveConfig, "--server", url)
	if code != 1 || !strings.Contains(errOut, "409") {
		t.Errorf("duplicate create: code %d, err %q", code, errOut)
	}

	code, out, _ = runCLI(t, "", "index", "list", "--server", url)
	if code != 0 || !strings.Contains(out, "gh-archive") || !strings.Contains(out, "created_at") {
		t.Errorf("list: code %d, out %q", code, out)
	}

	code, out, _ = runCLI(t, "", "index", "describe", "gh-archive", "--server", url)
	if code != 0 || !strings.Contains(out, "created_at (timestamp)") {
		t.Errorf("describe: code %d, out %q", code, out)
	}

	updated := writeFile(t, t.TempDir(), "gh-archive.yaml",
		strings.Replace(readGHArchive(t), "commit_timeout_secs: 10", "commit_timeout_secs: 30", 1))
	code, out, errOut = runCLI(t, "", "index", "update", updated, "--server", url)
	if code != 0 || !strings.Contains(out, "Index updated: gh-archive") {
		t.Fatalf("update: code %d, out %q, err %q", code, out, errOut)
	}

	code, out, _ = runCLI(t, "", "index", "get", "gh-archive", "--output", "json", "--server", url)
	if code != 0 {
		t.Fatalf("get: code %d", code)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		t.Fatalf("get --output json is not JSON: %v\n%s", err, out)
	}
	settings, _ := raw["indexing_settings"].(map[string]interface{})
	if settings["commit_timeout_secs"] != float64(30) {
		t.Errorf("commit_timeout_secs: got %v", settings["commit_timeout_secs"])
	}

	if code, out, _ := runCLI(t, "", "index", "delete", "gh-archive", "--server", url); code != 0 || !strings.Contains(out, "Deleted: gh-archive") {
		t.Errorf("delete: code %d, out %q", code, out)
	}
	code, _, errOut = runCLI(t, "", "index", "get", "gh-archive", "--server", url)
	if code != 1 || !strings.Contains(errOut, "404") {
		t.Errorf("get after delete: code %d, err %q", code, errOut)
	}
}

func TestRunIndex_violationsReported(t *testing.T) {
	url := newTestAPI(t, nil)
	bad := writeFile(t, t.TempDir(), "bad.yaml",
		strings.Replace(readGHArchive(t), "timestamp_field: created_at", "timestamp_field: create_at", 1))
	code, _, errOut := runCLI(t, "", "index", "create", bad, "--server", url)
	if code != 1 {
		t.Fatalf("code %d, want 1", code)
	}
	if !strings.Contains(errOut, "400") || !strings.Contains(errOut, "doc_mapping.timestamp_field") {
		t.Errorf("stderr: %q", errOut)
	}
}

func TestRunIndex_usage(t *testing.T) {
	if code, _, _ := runCLI(t, "", "index"); code != 2 {
		t.Errorf("no subcommand: code %d, want 2", code)
	}
	if code, _, _ := runCLI(t, "", "index", "frob"); code != 2 {
		t.Errorf("unknown subcommand: code %d, want 2", code)
	}
	if code, _, _ := runCLI(t, "", "index", "get"); code != 2 {
		t.Errorf("get without id: code %d, want 2", code)
	}
}

func TestRunStatus_server(t *testing.T) {
	url := newTestAPI(t, &stubWatch{dirs: []string{"/etc/indexes"}})
	if code, _, errOut := runCLI(t, "", "index", "create", ghArchiveConfig, "--server", url); code != 0 {
		t.Fatalf("create: %s", errOut)
	}
	code, out, errOut := runCLI(t, "", "status", "--server", url, "--output", "json")
	if code != 0 {
		t.Fatalf("status: code %d, err %q", code, errOut)
	}
	var status models.StatusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "ok" || status.IndexCount != 1 || status.Version != "test" {
		t.Errorf("status: %+v", status)
	}
	if len(status.WatchedPaths) != 1 || status.WatchedPaths[0] != "/etc/indexes" {
		t.Errorf("watched paths: %v", status.WatchedPaths)
	}
}

func TestRunStatus_local(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", "storage:\n  database_path: ./metastore.db\n")
	code, out, errOut := runCLI(t, "", "status", "--server", "", "--config", configPath)
	if code != 0 {
		t.Fatalf("code %d: %s", code, errOut)
	}
	if !strings.Contains(out, "status:            offline") || !strings.Contains(out, "indexes:           0") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRunWatch(t *testing.T) {
	watch := &stubWatch{}
	url := newTestAPI(t, watch)
	dir := t.TempDir()

	code, out, errOut := runCLI(t, "", "watch", "add", dir, "--server", url)
	if code != 0 || !strings.Contains(out, "Added: "+dir) {
		t.Fatalf("add: code %d, out %q, err %q", code, out, errOut)
	}
	code, out, _ = runCLI(t, "", "watch", "list", "--server", url)
	if code != 0 || strings.TrimSpace(out) != dir {
		t.Errorf("list: code %d, out %q", code, out)
	}
	if code, _, _ := runCLI(t, "", "watch", "remove", dir, "--server", url); code != 0 {
		t.Errorf("remove: code %d", code)
	}
	if dirs := watch.Directories(); len(dirs) != 0 {
		t.Errorf("dirs after remove: %v", dirs)
	}

	code, _, errOut = runCLI(t, "", "watch", "add", filepath.Join(dir, "missing"), "--server", url)
	if code != 1 || !strings.Contains(errOut, "404") {
		t.Errorf("add missing: code %d, err %q", code, errOut)
	}
}
