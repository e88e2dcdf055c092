package previewbuf

import "testing"

func TestSetGetClear(t *testing.T) {
	b := New()
	if _, ok := b.Get("job-1"); ok {
		t.Fatalf("expected no frame before Set")
	}

	b.Set("job-1", Frame{JPEG: []byte{0xFF, 0xD8}, Width: 512, Height: 512, Step: 3})
	f, ok := b.Get("job-1")
	if !ok || f.Step != 3 || f.Width != 512 {
		t.Fatalf("unexpected frame: %+v ok=%v", f, ok)
	}

	b.Clear("job-1")
	if _, ok := b.Get("job-1"); ok {
		t.Fatalf("expected frame cleared")
	}
}

func TestSetOverwritesPreviousFrame(t *testing.T) {
	b := New()
	b.Set("job-1", Frame{Step: 1})
	b.Set("job-1", Frame{Step: 2})
	f, _ := b.Get("job-1")
	if f.Step != 2 {
		t.Fatalf("expected latest frame to win, got step=%d", f.Step)
	}
}
