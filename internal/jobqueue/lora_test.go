package jobqueue

import "testing"

func TestExtractLoRATagsSingle(t *testing.T) {
	cleaned, tags := ExtractLoRATags("a cat <lora:add_detail:0.8> in the rain")
	if cleaned != "a cat in the rain" {
		t.Fatalf("unexpected cleaned prompt: %q", cleaned)
	}
	if len(tags) != 1 || tags[0].Name != "add_detail" || tags[0].Weight != 0.8 {
		t.Fatalf("unexpected tags: %+v", tags)
	}
}

func TestExtractLoRATagsDefaultWeight(t *testing.T) {
	_, tags := ExtractLoRATags("<lora:style>")
	if len(tags) != 1 || tags[0].Weight != 1.0 {
		t.Fatalf("expected default weight 1.0, got %+v", tags)
	}
}

func TestExtractLoRATagsNone(t *testing.T) {
	cleaned, tags := ExtractLoRATags("just a plain prompt")
	if cleaned != "just a plain prompt" {
		t.Fatalf("expected prompt unchanged, got %q", cleaned)
	}
	if len(tags) != 0 {
		t.Fatalf("expected no tags, got %+v", tags)
	}
}

func TestExtractLoRATagsMultiple(t *testing.T) {
	cleaned, tags := ExtractLoRATags("<lora:a:0.5> subject <lora:b:1.2> background")
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}
	if tags[0].Name != "a" || tags[1].Name != "b" {
		t.Fatalf("unexpected tag order: %+v", tags)
	}
	if cleaned != "subject background" {
		t.Fatalf("unexpected cleaned prompt: %q", cleaned)
	}
}
