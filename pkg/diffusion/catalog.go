package diffusion

// ArchitecturePreset describes a named model family and the satellite
// components it requires or accepts. Lookup (by id, alias, or substring)
// lives in internal/catalog; this is just the wire shape.
type ArchitecturePreset struct {
	ID                 string            `json:"id"`
	DisplayName        string            `json:"display_name"`
	Description        string            `json:"description"`
	Aliases            []string          `json:"aliases,omitempty"`
	RequiredComponents map[string]string `json:"requiredComponents"`
	OptionalComponents map[string]string `json:"optionalComponents,omitempty"`
	LoadOptions        map[string]any    `json:"loadOptions,omitempty"`
	GenerationDefaults map[string]any    `json:"generationDefaults,omitempty"`
}
