package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/indexdef/internal/cli"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/models"
)

// apiClient talks to a running indexdef server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is an error response from the server.
type apiError struct {
	Status     int
	Message    string             `json:"error"`
	Violations []models.Violation `json:"violations"`
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server returned %d: %s", e.Status, e.Message)
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  - %s: %s", v.Path, v.Reason)
	}
	return b.String()
}

// do sends a request and decodes a JSON response into out (when non-nil).
func (c *apiClient) do(method, path string, body []byte, contentType string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) status() (*models.StatusResponse, error) {
	var s models.StatusResponse
	if err := c.do(http.MethodGet, "/api/v1/status", nil, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *apiClient) createIndex(config []byte) (*models.IndexMetadata, error) {
	var meta models.IndexMetadata
	if err := c.do(http.MethodPost, "/api/v1/indexes", config, "application/yaml", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *apiClient) updateIndex(indexID string, config []byte) (*models.IndexMetadata, error) {
	var meta models.IndexMetadata
	if err := c.do(http.MethodPut, "/api/v1/indexes/"+url.PathEscape(indexID), config, "application/yaml", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *apiClient) listIndexes() ([]*models.IndexMetadata, error) {
	var out []*models.IndexMetadata
	if err := c.do(http.MethodGet, "/api/v1/indexes", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) getIndex(indexID string) (*models.IndexMetadata, error) {
	var meta models.IndexMetadata
	if err := c.do(http.MethodGet, "/api/v1/indexes/"+url.PathEscape(indexID), nil, "", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// getIndexConfig returns the raw config of an index in format (yaml or json).
func (c *apiClient) getIndexConfig(indexID, format string) ([]byte, error) {
	var raw []byte
	path := "/api/v1/indexes/" + url.PathEscape(indexID) + "?format=" + url.QueryEscape(format)
	if err := c.do(http.MethodGet, path, nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *apiClient) describeIndex(indexID string) (*models.IndexDescription, error) {
	var d models.IndexDescription
	if err := c.do(http.MethodGet, "/api/v1/indexes/"+url.PathEscape(indexID)+"/describe", nil, "", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *apiClient) deleteIndex(indexID string) error {
	return c.do(http.MethodDelete, "/api/v1/indexes/"+url.PathEscape(indexID), nil, "", nil)
}

func runIndex(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: indexdef index <create|update|list|get|describe|delete> [flags] [arg]")
		fmt.Fprintln(stderr, "  indexdef index create <file>     Register an index config")
		fmt.Fprintln(stderr, "  indexdef index update <file>     Replace the config of an index")
		fmt.Fprintln(stderr, "  indexdef index list              List registered indexes")
		fmt.Fprintln(stderr, "  indexdef index get <id>          Show an index (--output yaml|json for the raw config)")
		fmt.Fprintln(stderr, "  indexdef index describe <id>     Show the fields of an index")
		fmt.Fprintln(stderr, "  indexdef index delete <id>       Delete an index")
		return 2
	}
	sub := args[0]
	fs := newFlagSet("index "+sub, stderr)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	output := outputFlag(fs)
	if err := fs.Parse(argsReorder(args[1:], nil)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	client := newAPIClient(*serverURL)

	needArg := func(usage string) bool {
		if fs.NArg() != 1 {
			fmt.Fprintf(stderr, "Usage: indexdef index %s\n", usage)
			return false
		}
		return true
	}

	switch sub {
	case "create", "update":
		if !needArg(sub + " [flags] <index-config>") {
			return 2
		}
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to read index config: %v\n", err)
			return 1
		}
		var meta *models.IndexMetadata
		if sub == "create" {
			meta, err = client.createIndex(data)
		} else {
			var id string
			id, err = indexIDOf(fs.Arg(0))
			if err == nil {
				meta, err = client.updateIndex(id, data)
			}
		}
		if err != nil {
			fmt.Fprintf(stderr, "Index %s failed: %v\n", sub, err)
			return 1
		}
		if format != cli.OutputText {
			return writeOrFail(stdout, stderr, meta, format)
		}
		fmt.Fprintf(stdout, "Index %s: %s (%s)\n", sub+"d", meta.IndexID, meta.IndexUID)
	case "list":
		indexes, err := client.listIndexes()
		if err != nil {
			fmt.Fprintf(stderr, "List failed: %v\n", err)
			return 1
		}
		if err := cli.WriteIndexList(stdout, indexes, format); err != nil {
			fmt.Fprintf(stderr, "Output failed: %v\n", err)
			return 1
		}
	case "get":
		if !needArg("get [flags] <index-id>") {
			return 2
		}
		if format == cli.OutputText {
			meta, err := client.getIndex(fs.Arg(0))
			if err != nil {
				fmt.Fprintf(stderr, "Get failed: %v\n", err)
				return 1
			}
			return writeOrFail(stdout, stderr, meta, cli.OutputYAML)
		}
		raw, err := client.getIndexConfig(fs.Arg(0), string(format))
		if err != nil {
			fmt.Fprintf(stderr, "Get failed: %v\n", err)
			return 1
		}
		_, _ = stdout.Write(raw)
	case "describe":
		if !needArg("describe [flags] <index-id>") {
			return 2
		}
		d, err := client.describeIndex(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Describe failed: %v\n", err)
			return 1
		}
		if err := cli.WriteDescription(stdout, d, format); err != nil {
			fmt.Fprintf(stderr, "Output failed: %v\n", err)
			return 1
		}
	case "delete":
		if !needArg("delete [flags] <index-id>") {
			return 2
		}
		if err := client.deleteIndex(fs.Arg(0)); err != nil {
			fmt.Fprintf(stderr, "Delete failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Deleted: %s\n", fs.Arg(0))
	default:
		fmt.Fprintf(stderr, "Unknown index subcommand: %s\n", sub)
		return 2
	}
	return 0
}

// indexIDOf reads the index_id of a config file without validating it.
func indexIDOf(path string) (string, error) {
	cfg, err := indexconfig.Load(path)
	if err != nil {
		return "", err
	}
	return cfg.IndexID, nil
}

func writeOrFail(stdout, stderr io.Writer, v interface{}, format cli.OutputFormat) int {
	if err := cli.WriteStructured(stdout, v, format); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return 1
	}
	return 0
}

func runWatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: indexdef watch <add|remove|list> [path]")
		fmt.Fprintln(stderr, "  indexdef watch add <path>     Add a config directory to watch")
		fmt.Fprintln(stderr, "  indexdef watch remove <path>  Remove a config directory from watch")
		fmt.Fprintln(stderr, "  indexdef watch list           List watched directories")
		return 2
	}
	sub := args[0]
	fs := newFlagSet("watch", stderr)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	if err := fs.Parse(argsReorder(args[1:], nil)); err != nil {
		return 2
	}
	client := newAPIClient(*serverURL)
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Fprintln(stderr, "Usage: indexdef watch add <path>")
			return 2
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		if err := client.do(http.MethodPost, "/api/v1/watch/directories", body, "application/json", nil); err != nil {
			fmt.Fprintf(stderr, "Add failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Fprintln(stderr, "Usage: indexdef watch remove <path>")
			return 2
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.do(http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, "", nil); err != nil {
			fmt.Fprintf(stderr, "Remove failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := client.do(http.MethodGet, "/api/v1/watch/directories", nil, "", &out); err != nil {
			fmt.Fprintf(stderr, "List failed: %v\n", err)
			return 1
		}
		for _, d := range out.Directories {
			fmt.Fprintln(stdout, d)
		}
	default:
		fmt.Fprintf(stderr, "Unknown watch subcommand: %s\n", sub)
		return 2
	}
	return 0
}
