package whisper

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

// testModelPath returns the path to a whisper model for integration tests
// from WHISPER_MODEL_PATH, skipping the test when it is unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping whisper sink test")
	}
	return p
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path")
	}
}

func TestPrepare_UpsamplesTo16k(t *testing.T) {
	seg := audio.Segment{
		Samples:    []int16{0, 16384, -16384, 0},
		SampleRate: audio.TargetSampleRate,
	}
	got := prepare(seg)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	if got[0] != 0 || got[2] != 0.5 || got[4] != -0.5 {
		t.Errorf("prepared samples = %v", got)
	}
}

func TestPrepare_DefaultsRate(t *testing.T) {
	got := prepare(audio.Segment{Samples: make([]int16, 80)})
	if len(got) != 160 {
		t.Errorf("len = %d, want 160", len(got))
	}
}

func TestConsume_SilenceProducesNoTranscript(t *testing.T) {
	path := testModelPath(t)
	var calls int
	s, err := New(path, WithHandler(func(sink.Transcript) { calls++ }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seg := audio.Segment{Samples: make([]int16, 8000), SampleRate: 8000, Seq: 1}
	if err := s.Consume(context.Background(), seg); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Consume(context.Background(), seg); !errors.Is(err, sink.ErrClosed) {
		t.Errorf("err after Close = %v, want ErrClosed", err)
	}
	t.Logf("transcripts for silence: %d", calls)
}
