package jobqueue

import (
	"regexp"
	"strconv"
	"strings"
)

// LoRATag is one `<lora:name:weight>` reference extracted from a prompt.
type LoRATag struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// loraTagPattern matches sd.cpp's inline LoRA syntax, e.g.
// "<lora:add_detail:0.8>". Weight defaults to 1.0 when omitted.
var loraTagPattern = regexp.MustCompile(`<lora:([^:>]+)(?::([0-9]*\.?[0-9]+))?>`)

// ExtractLoRATags pulls every LoRA tag out of prompt, returning the
// prompt with tags removed (extra whitespace collapsed) and the parsed
// tags in order of appearance. The worker passes the parsed tags to the
// engine's Generate call as the lora_tags parameter, next to the cleaned
// prompt.
func ExtractLoRATags(prompt string) (string, []LoRATag) {
	matches := loraTagPattern.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return prompt, nil
	}

	tags := make([]LoRATag, 0, len(matches))
	for _, m := range matches {
		weight := 1.0
		if m[2] != "" {
			if w, err := strconv.ParseFloat(m[2], 64); err == nil {
				weight = w
			}
		}
		tags = append(tags, LoRATag{Name: strings.TrimSpace(m[1]), Weight: weight})
	}

	cleaned := loraTagPattern.ReplaceAllString(prompt, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return cleaned, tags
}
