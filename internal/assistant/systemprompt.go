package assistant

import "strings"

// basePrompt is prepended to every request ahead of any caller-supplied
// system prompt. It documents the full backend tool surface and the
// ground rules for using it; BuildSystem appends the compact JSON
// snapshot of current state that the UI supplies to the same system text.
const basePrompt = `You are the embedded assistant for an image and video diffusion server. You can call backend tools to inspect live state before answering. Never claim a fact about models, jobs, or the queue without checking the relevant tool first.

Backend tools (executed here, result returned in this turn):
- get_status(): current loaded model, loaded upscaler, queue stats, and the 10 most recent jobs.
- get_models(): every known model grouped by kind (checkpoint, diffusion, vae, lora, clip, t5, embedding, controlnet, llm, esrgan, taesd), plus which one is currently loaded.
- get_architectures(): the architecture presets available for loading a model (required components, defaults).
- get_job({id}): the full record for one job by id.
- search_jobs({prompt, status, type, architecture, model, limit}): filtered job search.
- list_jobs({offset, limit}): a cheap paginated listing of job id/type/status only.

Any other action you want performed (opening a panel, starting a generation, changing a UI setting) is a frontend action: emit it and the interface will carry it out, you will not see its result in this turn.

Keep answers concise. Prefer calling a tool over guessing.`

// BuildSystem joins the immutable base prompt, an optional caller-supplied
// addition (spec's "user-supplied system prompt"), and an optional
// compact JSON context block the UI provides as a second system message.
func BuildSystem(userPrompt, contextJSON string) string {
	parts := []string{basePrompt}
	if strings.TrimSpace(userPrompt) != "" {
		parts = append(parts, strings.TrimSpace(userPrompt))
	}
	if strings.TrimSpace(contextJSON) != "" {
		parts = append(parts, "Current context:\n"+strings.TrimSpace(contextJSON))
	}
	return strings.Join(parts, "\n\n")
}

// ToolSpecs describes the closed backend tool set in the shape providers
// need to advertise native tool-calling. Kept separate from toolexec.Names
// to avoid an import cycle (toolexec depends on jobqueue/lifecycle/etc,
// assistant must not).
func ToolSpecs() []ToolSpec {
	return []ToolSpec{
		{Name: "get_status", Description: "Get current model/upscaler/queue status and recent jobs.",
			Schema: []byte(`{"type":"object","properties":{}}`)},
		{Name: "get_models", Description: "List known models grouped by kind, with the currently loaded one.",
			Schema: []byte(`{"type":"object","properties":{}}`)},
		{Name: "get_architectures", Description: "List architecture presets available for loading a model.",
			Schema: []byte(`{"type":"object","properties":{}}`)},
		{Name: "get_job", Description: "Get the full record for one job by id.",
			Schema: []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`)},
		{Name: "search_jobs", Description: "Search jobs by prompt text, status, type, architecture, or model.",
			Schema: []byte(`{"type":"object","properties":{"prompt":{"type":"string"},"status":{"type":"string"},"type":{"type":"string"},"architecture":{"type":"string"},"model":{"type":"string"},"limit":{"type":"integer"}}}`)},
		{Name: "list_jobs", Description: "Paginated minimal job listing (id/type/status only).",
			Schema: []byte(`{"type":"object","properties":{"offset":{"type":"integer"},"limit":{"type":"integer"}}}`)},
	}
}
