package chunk

import (
	"strings"
	"testing"
)

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(Config{})

	if s.config.TargetSize != 512 {
		t.Errorf("expected default TargetSize 512, got %d", s.config.TargetSize)
	}
	if s.config.MaxSize != 1024 {
		t.Errorf("expected default MaxSize 1024, got %d", s.config.MaxSize)
	}
	if s.config.Method != "semantic" {
		t.Errorf("expected default Method 'semantic', got %s", s.config.Method)
	}
}

func TestSplitter_EmptyContent(t *testing.T) {
	s := NewSplitter(Config{Method: "fixed"})

	if pieces := s.Split(""); pieces != nil {
		t.Errorf("expected nil for empty content, got %v", pieces)
	}
	if pieces := s.Split("   "); pieces != nil {
		t.Errorf("expected nil for whitespace content, got %v", pieces)
	}
}

func TestSplitter_FixedMethod(t *testing.T) {
	s := NewSplitter(Config{Method: "fixed", TargetSize: 10, MaxSize: 20, Overlap: 2})

	words := make([]string, 25)
	for i := range words {
		words[i] = "word"
	}
	content := strings.Join(words, " ")

	pieces := s.Split(content)
	if len(pieces) == 0 {
		t.Fatal("expected at least one piece")
	}

	for i, p := range pieces {
		if p.Index != i {
			t.Errorf("piece %d has wrong index %d", i, p.Index)
		}
		if p.Metadata["method"] != "fixed" {
			t.Errorf("piece %d has wrong method %s", i, p.Metadata["method"])
		}
		if p.Content == "" {
			t.Errorf("piece %d has empty content", i)
		}
	}
}

func TestSplitter_SemanticPreservesCodeBlock(t *testing.T) {
	s := NewSplitter(Config{Method: "semantic", TargetSize: 50, MaxSize: 200, Overlap: 0})

	content := "# Title\n\nSome intro text.\n\n```go\nfunc main() {}\n```\n\nMore text after."
	pieces := s.Split(content)

	var sawCode bool
	for _, p := range pieces {
		if strings.Contains(p.Content, "func main()") {
			sawCode = true
			if p.Metadata["contains_code"] != "true" {
				t.Errorf("expected contains_code metadata on piece with code block")
			}
		}
	}
	if !sawCode {
		t.Fatal("expected a piece containing the code block")
	}
}

func TestValidate_RejectsOverlapGEQTargetSize(t *testing.T) {
	err := Validate(Config{Method: "fixed", TargetSize: 10, MaxSize: 20, Overlap: 10})
	if err == nil {
		t.Fatal("expected error when overlap >= target_size")
	}
}

func TestValidate_RejectsUnknownMethod(t *testing.T) {
	if err := Validate(Config{Method: "bogus"}); err == nil {
		t.Fatal("expected error for unknown chunking method")
	}
}

func TestID_DeterministicAndStable(t *testing.T) {
	id1 := ID("hello world", "https://example.com/a")
	id2 := ID("hello world", "https://example.com/a")
	if id1 != id2 {
		t.Fatalf("expected identical IDs for identical (text, source), got %s != %s", id1, id2)
	}
}

func TestID_DiffersBySource(t *testing.T) {
	id1 := ID("hello world", "https://example.com/a")
	id2 := ID("hello world", "https://example.com/b")
	if id1 == id2 {
		t.Fatal("expected different IDs for different sources")
	}
}
