package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tianruen-vp/human-agent-interaction/internal/groq"
	"github.com/tianruen-vp/human-agent-interaction/internal/state"
)

// ParseError reports that the extraction call returned a payload that does
// not decode into the requirements shape.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("requirements payload not parseable: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extractor asks the reasoning service to distill a conversation transcript
// into a structured requirements record. It performs no retries; the caller
// decides.
type Extractor struct {
	client Completer
	model  string
	logger *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorModel overrides the extraction model.
func WithExtractorModel(model string) ExtractorOption {
	return func(e *Extractor) {
		e.model = model
	}
}

// WithExtractorLogger sets a structured logger for the extractor.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = l
	}
}

// NewExtractor creates an Extractor on top of the given completion client.
func NewExtractor(client Completer, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		client: client,
		model:  groq.DefaultModel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs a JSON-mode completion over the transcript and decodes the
// structured requirements. Model output is coerced leniently: numbers and
// booleans may arrive as strings, price may be null.
func (e *Extractor) Extract(ctx context.Context, transcript []string) (state.Requirements, error) {
	temperature := 0.3
	resp, err := e.client.ChatCompletion(ctx, groq.ChatRequest{
		Model: e.model,
		Messages: []groq.Message{
			{Role: "system", Content: extractionPrompt},
			{Role: "user", Content: strings.Join(transcript, "\n")},
		},
		Temperature:    &temperature,
		ResponseFormat: &groq.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return state.Requirements{}, fmt.Errorf("extraction completion: %w", err)
	}

	raw := resp.TextContent()
	req, err := parseRequirements(raw)
	if err != nil {
		return state.Requirements{}, &ParseError{Raw: raw, Err: err}
	}

	e.logger.Debug("extracted requirements", "name", req.Name, "services", len(req.Services))
	return req, nil
}

// parseRequirements decodes the model's JSON object into Requirements,
// tolerating the usual shape drift in LLM output.
func parseRequirements(raw string) (state.Requirements, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return state.Requirements{}, err
	}

	req := state.Requirements{
		Name:       stringField(fields["name"]),
		Target:     stringField(fields["target"]),
		Idea:       stringField(fields["idea"]),
		Edge:       stringField(fields["edge"]),
		References: stringField(fields["references"]),
		Stage:      stringField(fields["stage"]),
		Services:   servicesField(fields["services"]),
	}

	var err error
	if req.Price, err = priceField(fields["price"]); err != nil {
		return state.Requirements{}, err
	}
	req.Paid = paidField(fields["paid"])
	return req, nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func servicesField(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	// A single service sometimes arrives as a bare string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []string{s}
	}
	return nil
}

func priceField(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.TrimSuffix(strings.ToUpper(s), "USDC"))
		if s == "" || strings.EqualFold(s, "none") || strings.EqualFold(s, "null") {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("price %q is not a number", s)
		}
		return f, nil
	}
	return 0, fmt.Errorf("price field %s is not a number or string", string(raw))
}

func paidField(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return false
}
