// ABOUTME: Tests for the generation collaborator
// ABOUTME: Verifies shape checks and Generate against a fake completion API

package gen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loamdb/loam/pkg/document"
)

// fakeCompletionServer returns a chat-completion endpoint that always
// responds with the given message content
func fakeCompletionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("Failed to encode response: %v", err)
		}
	}))
}

func setupGenerator(t *testing.T, srv *httptest.Server) *Generator {
	t.Helper()
	g, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "test-model"})
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}
	return g
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without an api key must fail")
	}
}

func TestGenerate(t *testing.T) {
	srv := fakeCompletionServer(t, `{"front": "correr", "back": "to run", "level": 2}`)
	defer srv.Close()
	g := setupGenerator(t, srv)

	fields, err := g.Generate(context.Background(), "make a flashcard", Shape{
		"front": document.KindString,
		"back":  document.KindString,
		"level": document.KindNumber,
	})
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	if fields["front"].Str != "correr" || fields["level"].Num != 2 {
		t.Errorf("Generated fields = %v", fields)
	}
}

func TestGenerateRejectsMissingField(t *testing.T) {
	srv := fakeCompletionServer(t, `{"front": "correr"}`)
	defer srv.Close()
	g := setupGenerator(t, srv)

	_, err := g.Generate(context.Background(), "make a flashcard", Shape{
		"front": document.KindString,
		"back":  document.KindString,
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateRejectsWrongKind(t *testing.T) {
	srv := fakeCompletionServer(t, `{"count": "three"}`)
	defer srv.Close()
	g := setupGenerator(t, srv)

	_, err := g.Generate(context.Background(), "count things", Shape{
		"count": document.KindNumber,
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateRejectsMalformedOutput(t *testing.T) {
	srv := fakeCompletionServer(t, `not json at all`)
	defer srv.Close()
	g := setupGenerator(t, srv)

	_, err := g.Generate(context.Background(), "anything", Shape{})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()
	g := setupGenerator(t, srv)

	_, err := g.Generate(context.Background(), "anything", Shape{})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate = %v, want ErrGenerationFailed", err)
	}
}

func TestCheckShapeAllowsExtraFields(t *testing.T) {
	fields := map[string]document.Value{
		"front": document.NewStringValue("hola"),
		"extra": document.NewBoolValue(true),
	}
	if err := checkShape(fields, Shape{"front": document.KindString}); err != nil {
		t.Errorf("Extra fields must be allowed: %v", err)
	}
}

func TestShapeInstructionListsFields(t *testing.T) {
	got := shapeInstruction(Shape{
		"b": document.KindNumber,
		"a": document.KindString,
	})
	// Deterministic field order keeps prompts stable
	ai := strings.Index(got, `"a": string`)
	bi := strings.Index(got, `"b": number`)
	if ai < 0 || bi < 0 || ai > bi {
		t.Errorf("Instruction = %q, want a before b", got)
	}
}
