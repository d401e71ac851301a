package ui

import (
	"testing"

	"github.com/lukman83/watchfinder/internal/models"
)

func TestFormatProgress(t *testing.T) {
	got := FormatProgress(models.Progress{Source: "RolexForums BST", Current: "FS: Rolex 16610", Processed: 3, Total: 12})
	if want := "[RolexForums BST] 3/12 FS: Rolex 16610"; got != want {
		t.Errorf("FormatProgress() = %q, want %q", got, want)
	}
}

func TestProgressUpdatesMessage(t *testing.T) {
	s := NewSpinner()
	s.Progress(models.Progress{Source: "src", Current: "x", Processed: 1, Total: 2})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg != "[src] 1/2 x" {
		t.Errorf("msg = %q", s.msg)
	}
}
