package sdruntime

// Capabilities enumerates the closed option lists the linked library
// supports: sampler names, scheduler names, and the quantization types
// its convert path accepts. A cgo-backed Engine reports what it was
// actually compiled with via CapabilityReporter; fakes and tests fall
// back to DefaultCapabilities.
type Capabilities struct {
	Samplers          []string `json:"samplers"`
	Schedulers        []string `json:"schedulers"`
	QuantizationTypes []string `json:"quantization_types"`
}

// CapabilityReporter is optionally implemented by an Engine that can
// enumerate its own option lists.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// DefaultCapabilities returns the option lists of a stock library build.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Samplers: []string{
			"euler_a", "euler", "heun", "dpm2", "dpm++2s_a", "dpm++2m",
			"dpm++2mv2", "ipndm", "ipndm_v", "lcm", "ddim_trailing", "tcd",
		},
		Schedulers: []string{
			"discrete", "karras", "exponential", "ays", "gits",
			"smoothstep", "sgm_uniform", "simple",
		},
		QuantizationTypes: []string{
			"f32", "f16", "q8_0", "q5_1", "q5_0", "q4_1", "q4_0",
			"q4_k", "q3_k", "q2_k",
		},
	}
}

// EngineCapabilities resolves engine's option lists, preferring what the
// engine itself reports.
func EngineCapabilities(engine Engine) Capabilities {
	if reporter, ok := engine.(CapabilityReporter); ok {
		return reporter.Capabilities()
	}
	return DefaultCapabilities()
}
