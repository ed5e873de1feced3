package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/hybridmind/internal/backend"
	"github.com/matheus3301/hybridmind/internal/engine"
)

func TestRenderPromptShape(t *testing.T) {
	history := []backend.Turn{
		{Role: backend.RoleUser, Content: "what is Go"},
		{Role: backend.RoleModel, Content: "a language"},
	}
	got := RenderPrompt(history, "tell me more")

	want := "<start_of_turn>user\nwhat is Go<end_of_turn>\n" +
		"<start_of_turn>model\na language<end_of_turn>\n" +
		"<start_of_turn>user\ntell me more<end_of_turn>\n" +
		"<start_of_turn>model\n"
	if got != want {
		t.Errorf("RenderPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderPromptWindowsHistory(t *testing.T) {
	var history []backend.Turn
	for i := 0; i < 10; i++ {
		history = append(history, backend.Turn{Role: backend.RoleUser, Content: fmt.Sprintf("turn-%d", i)})
	}
	got := RenderPrompt(history, "now")

	if strings.Contains(got, "turn-3") {
		t.Error("turn outside the window leaked into the prompt")
	}
	for i := 4; i < 10; i++ {
		if !strings.Contains(got, fmt.Sprintf("turn-%d", i)) {
			t.Errorf("turn-%d missing from the window", i)
		}
	}
}

func TestRenderPromptFiltersSystem(t *testing.T) {
	history := []backend.Turn{
		{Role: backend.RoleSystem, Content: "internal note"},
		{Role: backend.RoleUser, Content: "hi"},
	}
	got := RenderPrompt(history, "x")
	if strings.Contains(got, "internal note") {
		t.Error("system turn leaked into the prompt")
	}
}

func testEngine(t *testing.T, handler http.HandlerFunc) *engine.Engine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	weights := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(weights, make([]byte, 2048), 0o600); err != nil {
		t.Fatal(err)
	}
	e := engine.New(srv.URL, "test", nil)
	if err := e.Initialize(weights, 1024); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestGenerateTrimsReply(t *testing.T) {
	e := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"  the answer \n","done":true}` + "\n"))
	})

	a := New(e, nil, nil)
	got, err := a.Generate(context.Background(), backend.Request{Prompt: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Errorf("Generate() = %q, want trimmed reply", got)
	}
}

type fakeCaptioner struct {
	labels string
	err    error
}

func (f fakeCaptioner) Caption(context.Context, string) (string, error) {
	return f.labels, f.err
}

func TestGenerateAugmentsPromptWithCaption(t *testing.T) {
	var seen string
	e := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		seen = req.Prompt
		_, _ = w.Write([]byte(`{"response":"ok","done":true}` + "\n"))
	})

	a := New(e, fakeCaptioner{labels: "cat, sofa"}, nil)
	if _, err := a.Generate(context.Background(), backend.Request{Prompt: "what is this", ImagePath: "/tmp/img.jpg"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(seen, "Context: The user has uploaded an image containing: cat, sofa.") {
		t.Errorf("prompt missing caption context: %q", seen)
	}
	if !strings.Contains(seen, "User: what is this") {
		t.Errorf("prompt missing original text: %q", seen)
	}
}

func TestGenerateCaptionFailureDegradesToText(t *testing.T) {
	var seen string
	e := testEngine(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		seen = req.Prompt
		_, _ = w.Write([]byte(`{"response":"ok","done":true}` + "\n"))
	})

	a := New(e, fakeCaptioner{err: fmt.Errorf("vision model missing")}, nil)
	if _, err := a.Generate(context.Background(), backend.Request{Prompt: "hello", ImagePath: "/tmp/img.jpg"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(seen, "Context:") {
		t.Errorf("caption context present despite captioner failure: %q", seen)
	}
	if !strings.Contains(seen, "hello") {
		t.Errorf("prompt lost the user text: %q", seen)
	}
}
