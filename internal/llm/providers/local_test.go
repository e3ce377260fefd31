// File path: internal/llm/providers/local_test.go
package providers

import (
	"context"
	"math"
	"testing"
)

func TestLocalChatEchoesLastMessage(t *testing.T) {
	p := NewLocalProvider()
	out, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "summarize refactoring work"},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "[local] summarize refactoring work" {
		t.Fatalf("unexpected output: %q", out)
	}
	if _, err := p.Chat(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty messages")
	}
}

func TestLocalEmbedDeterministic(t *testing.T) {
	p := NewLocalProvider()
	a, err := p.Embed(context.Background(), []string{"fix http handler", "fix http handler"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 2 || len(a[0]) != localEmbedDim {
		t.Fatalf("unexpected shape: %d x %d", len(a), len(a[0]))
	}
	var norm float64
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("equal inputs produced different vectors at %d", i)
		}
		norm += float64(a[0][i]) * float64(a[0][i])
	}
	if math.Abs(norm-1) > 1e-3 {
		t.Fatalf("vector not unit length: %f", norm)
	}
}
