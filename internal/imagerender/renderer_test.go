package imagerender

import "testing"

func TestPageCountRejectsGarbage(t *testing.T) {
	if _, err := PageCount([]byte("not a pdf")); err == nil {
		t.Error("expected error for non-PDF input")
	}
}

func TestRenderPageToJPEGRejectsGarbage(t *testing.T) {
	if _, err := RenderPageToJPEG([]byte("not a pdf"), 1, 150, 85); err == nil {
		t.Error("expected error for non-PDF input")
	}
}
