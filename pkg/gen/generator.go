// ABOUTME: External generation collaborator that turns a prompt into
// ABOUTME: document fields matching a caller-declared shape

package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loamdb/loam/internal/logger"
	"github.com/loamdb/loam/internal/metrics"
	"github.com/loamdb/loam/pkg/document"
)

// ErrGenerationFailed is returned for any generation failure: transport
// errors, malformed model output, or output that does not fit the shape.
// Callers treat all of these the same way; nothing is written to the store.
var ErrGenerationFailed = errors.New("generation failed")

// Shape declares the fields a generated document must have and their kinds
type Shape map[string]document.Kind

// Config holds the generator configuration
type Config struct {
	APIKey  string
	BaseURL string // optional override for self-hosted endpoints
	Model   string
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Generator produces document field maps from natural-language prompts
// via a chat-completion model. It is a pure collaborator: it never touches
// the store, callers submit the result themselves.
type Generator struct {
	client  *openai.Client
	model   string
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a generator from the given config
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gen: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		log:     cfg.Logger.Component("gen"),
		metrics: cfg.Metrics,
	}, nil
}

// Generate asks the model for a JSON object matching the shape and returns
// it as document fields. One attempt, no retries: a failed or ill-shaped
// response is reported as ErrGenerationFailed and the caller decides.
func (g *Generator) Generate(ctx context.Context, prompt string, shape Shape) (fields map[string]document.Value, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		g.metrics.RecordGeneration(status)
	}()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: shapeInstruction(shape)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		g.log.Error("completion request failed").Err(err).Send()
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed output: %v", ErrGenerationFailed, err)
	}

	fields = make(map[string]document.Value, len(raw))
	for name, v := range raw {
		fields[name] = document.ValueOf(v)
	}
	if err := checkShape(fields, shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	g.log.Debug("generated document fields").
		Int("fields", len(fields)).
		Str("model", g.model).
		Send()
	return fields, nil
}

// shapeInstruction renders the shape as a system prompt
func shapeInstruction(shape Shape) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object with exactly these fields:\n")
	for _, name := range sortedFields(shape) {
		fmt.Fprintf(&b, "  %q: %s\n", name, kindName(shape[name]))
	}
	b.WriteString("Do not add other fields. Do not wrap the object in markdown.")
	return b.String()
}

// checkShape verifies every declared field is present with the right kind
func checkShape(fields map[string]document.Value, shape Shape) error {
	for name, kind := range shape {
		v, ok := fields[name]
		if !ok {
			return fmt.Errorf("missing field %q", name)
		}
		if v.Kind != kind {
			return fmt.Errorf("field %q: want %s, got %s", name, kindName(kind), kindName(v.Kind))
		}
	}
	return nil
}

func sortedFields(shape Shape) []string {
	names := make([]string, 0, len(shape))
	for name := range shape {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func kindName(k document.Kind) string {
	switch k {
	case document.KindNull:
		return "null"
	case document.KindBool:
		return "boolean"
	case document.KindNumber:
		return "number"
	case document.KindString:
		return "string"
	case document.KindList:
		return "array"
	case document.KindMap:
		return "object"
	default:
		return "unknown"
	}
}
