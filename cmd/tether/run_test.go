package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetherbot/tether/internal/config"
	"github.com/tetherbot/tether/internal/types"
)

// chdir changes the working directory for the duration of the test,
// standing in for t.Chdir which requires Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

// A batch living in another project directory resolves its repo and token
// source from that project's config.yaml when the working directory has
// none configured.
func TestResolveScopeFallsBackToBatchProject(t *testing.T) {
	chdir(t, t.TempDir()) // no .tether here
	if err := config.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	projDir := t.TempDir()
	tetherDir := filepath.Join(projDir, ".tether")
	if err := os.MkdirAll(tetherDir, 0750); err != nil {
		t.Fatal(err)
	}
	content := "repo: octo/widgets\ntoken-env: GH_PAT\n"
	if err := os.WriteFile(filepath.Join(tetherDir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	batchPath := filepath.Join(projDir, "batches", "batch.jsonl")
	if err := os.MkdirAll(filepath.Dir(batchPath), 0750); err != nil {
		t.Fatal(err)
	}

	owner, name, tokenEnv, err := resolveScope(batchPath)
	if err != nil {
		t.Fatalf("resolveScope() error = %v", err)
	}
	if owner != "octo" || name != "widgets" {
		t.Errorf("scope = %s/%s, want octo/widgets from the batch's project", owner, name)
	}
	if tokenEnv != "GH_PAT" {
		t.Errorf("tokenEnv = %q, want GH_PAT from the batch's project", tokenEnv)
	}
}

func TestResolveScopeFlagOverrideWins(t *testing.T) {
	chdir(t, t.TempDir())
	if err := config.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	config.Override("repo", "flag/owner")

	owner, name, tokenEnv, err := resolveScope(filepath.Join(t.TempDir(), "batch.jsonl"))
	if err != nil {
		t.Fatalf("resolveScope() error = %v", err)
	}
	if owner != "flag" || name != "owner" {
		t.Errorf("scope = %s/%s, want the override", owner, name)
	}
	if tokenEnv != "GITHUB_TOKEN" {
		t.Errorf("tokenEnv = %q, want default", tokenEnv)
	}
}

func TestResolveScopeNoRepoAnywhere(t *testing.T) {
	chdir(t, t.TempDir())
	if err := config.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if _, _, _, err := resolveScope(filepath.Join(t.TempDir(), "batch.jsonl")); err == nil {
		t.Error("resolveScope() error = nil, want missing-repo error")
	}
}

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.jsonl")
	content := `{"type": "create_issue", "temp_id": "aw_abc123", "title": "first"}

{"type": "add_comment", "issue": "#aw_abc123", "body": "hi"}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	batch, err := loadBatch(path)
	if err != nil {
		t.Fatalf("loadBatch() error = %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2 (blank line skipped)", len(batch))
	}
	if batch[0].Type != "create_issue" || batch[0].TempID != "aw_abc123" || batch[0].Index != 0 {
		t.Errorf("batch[0] = %+v, want lifted type/temp_id and index 0", batch[0])
	}
	if batch[1].Type != "add_comment" || batch[1].Index != 1 {
		t.Errorf("batch[1] = %+v, want add_comment at index 1", batch[1])
	}
	if batch[1].StringField("issue") != "#aw_abc123" {
		t.Errorf("payload field lost in decode: %+v", batch[1].Payload)
	}
}

func TestLoadBatchReportsLineNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.jsonl")
	content := `{"type": "create_issue", "title": "ok"}
{not json}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := loadBatch(path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error = %v, want line 2 mentioned", err)
	}
}

func TestLoadBatchMissingType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.jsonl")
	if err := os.WriteFile(path, []byte(`{"title": "no type"}`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadBatch(path); err == nil {
		t.Error("loadBatch() error = nil, want missing type error")
	}
}

func TestLoadResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json")
	content := `{
  "aw_abc123": {"kind": "issue", "repo": "octo/widgets", "number": 42},
  "aw_brd1": {"kind": "board", "board_url": "https://github.com/orgs/octo/projects/3"}
}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	seed, err := loadResolution(path)
	if err != nil {
		t.Fatalf("loadResolution() error = %v", err)
	}
	if seed["aw_abc123"].Number != 42 || seed["aw_abc123"].Kind != types.RefIssue {
		t.Errorf("issue entry = %+v, want octo/widgets#42", seed["aw_abc123"])
	}
	if seed["aw_brd1"].Kind != types.RefBoard {
		t.Errorf("board entry = %+v, want board kind", seed["aw_brd1"])
	}
}

func TestWriteReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	report := &types.Report{
		Results: []types.Result{
			{Type: "create_issue", Index: 0, Status: types.StatusSuccess},
		},
		Resolution: map[string]types.Ref{
			"aw_abc123": types.IssueRef("octo/widgets", 42),
		},
	}

	if err := writeReport(report, path); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded types.Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Status != types.StatusSuccess {
		t.Errorf("decoded report = %+v, want original results back", decoded)
	}
	if decoded.Resolution["aw_abc123"].Number != 42 {
		t.Errorf("resolution = %+v, want table round-tripped", decoded.Resolution)
	}
}
