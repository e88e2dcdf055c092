package toolexec

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fszontagh/sdcpp-orchestrator/internal/catalog"
	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/internal/jobqueue"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/internal/sdruntime"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// fakeEngine satisfies sdruntime.Engine but is never actually invoked by
// these tests: toolexec only reads Lifecycle.Status()/UpscalerStatus(),
// neither of which calls the engine.
type fakeEngine struct{}

func (fakeEngine) LoadModel(context.Context, sdruntime.LoadParams, sdruntime.ProgressFunc) (sdruntime.Context, error) {
	return nil, nil
}
func (fakeEngine) LoadUpscaler(context.Context, sdruntime.UpscalerLoadParams, sdruntime.ProgressFunc) (sdruntime.UpscalerContext, error) {
	return nil, nil
}
func (fakeEngine) Generate(context.Context, sdruntime.Context, sdruntime.GenerateRequest, sdruntime.ProgressFunc, sdruntime.PreviewFunc) (sdruntime.GenerateResult, error) {
	return sdruntime.GenerateResult{}, nil
}
func (fakeEngine) Upscale(context.Context, sdruntime.UpscalerContext, sdruntime.UpscaleRequest, sdruntime.ProgressFunc) (sdruntime.GenerateResult, error) {
	return sdruntime.GenerateResult{}, nil
}
func (fakeEngine) Convert(context.Context, sdruntime.ConvertRequest) error { return nil }

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()

	store := jobqueue.NewStore(filepath.Join(dir, "queue_state.json"), true, 0, nil, nil)
	store.Add(diffusion.JobTxt2Img, map[string]any{"prompt": "a cat"}, diffusion.LoadedSnapshot{})

	reg := registry.New(config.PathsConfig{}, nil)

	catPath := filepath.Join(dir, "model_architectures.json")
	if err := os.WriteFile(catPath, []byte(`{"architectures":[{"id":"sdxl","display_name":"SDXL","requiredComponents":{}}]}`), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := catalog.Load(catPath, nil)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	lc := lifecycle.New(fakeEngine{}, reg, nil, nil)
	return New(store, lc, reg, cat)
}

func TestIsBackendTool(t *testing.T) {
	if !IsBackendTool("get_status") {
		t.Fatalf("expected get_status to be a backend tool")
	}
	if IsBackendTool("ui_open_panel") {
		t.Fatalf("expected frontend-only tool to not be a backend tool")
	}
}

func TestExecuteGetStatus(t *testing.T) {
	ex := newTestExecutor(t)
	raw, err := ex.Execute("get_status", nil)
	if err != nil {
		t.Fatalf("get_status: %v", err)
	}
	var out struct {
		RecentJobs []map[string]any `json:"recent_jobs"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.RecentJobs) != 1 {
		t.Fatalf("expected 1 recent job, got %d", len(out.RecentJobs))
	}
}

func TestExecuteGetJobNotFound(t *testing.T) {
	ex := newTestExecutor(t)
	_, err := ex.Execute("get_job", json.RawMessage(`{"id":"missing"}`))
	if err == nil {
		t.Fatalf("expected error for missing job")
	}
}

func TestExecuteListJobsIsMinimal(t *testing.T) {
	ex := newTestExecutor(t)
	raw, err := ex.Execute("list_jobs", json.RawMessage(`{"limit":5}`))
	if err != nil {
		t.Fatalf("list_jobs: %v", err)
	}
	var out struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(out.Items))
	}
	if _, ok := out.Items[0]["prompt"]; ok {
		t.Fatalf("list_jobs must not include heavy payload fields like prompt")
	}
}

func TestExecuteGetArchitectures(t *testing.T) {
	ex := newTestExecutor(t)
	raw, err := ex.Execute("get_architectures", nil)
	if err != nil {
		t.Fatalf("get_architectures: %v", err)
	}
	var out struct {
		Architectures []diffusion.ArchitecturePreset `json:"architectures"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Architectures) != 1 || out.Architectures[0].ID != "sdxl" {
		t.Fatalf("unexpected architectures: %+v", out.Architectures)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.Execute("not_a_tool", nil); err == nil {
		t.Fatalf("expected error for unknown tool name")
	}
}
