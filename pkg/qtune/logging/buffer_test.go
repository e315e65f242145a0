package logging_test

import (
	"fmt"
	"testing"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

func TestLogBufferWraps(t *testing.T) {
	t.Parallel()

	b := logging.NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(logging.LogEntry{Message: fmt.Sprintf("m%d", i), Level: logging.LevelInfo})
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	got := b.Last(0, logging.LevelDebug)
	want := []string{"m2", "m3", "m4"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Message, want[i])
		}
	}

	last := b.Last(2, logging.LevelDebug)
	if len(last) != 2 || last[0].Message != "m3" || last[1].Message != "m4" {
		t.Errorf("Last(2) = %+v", last)
	}

	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len() after Clear = %d", b.Len())
	}
}

func TestLogBufferLevelFilter(t *testing.T) {
	t.Parallel()

	b := logging.NewLogBuffer(0)
	b.Add(logging.LogEntry{Message: "debug", Level: logging.LevelDebug})
	b.Add(logging.LogEntry{Message: "error", Level: logging.LevelError})
	b.Add(logging.LogEntry{Message: "info", Level: logging.LevelInfo})

	got := b.Last(0, logging.LevelInfo)
	if len(got) != 2 || got[0].Message != "error" || got[1].Message != "info" {
		t.Errorf("Last(0, info) = %+v", got)
	}
}
