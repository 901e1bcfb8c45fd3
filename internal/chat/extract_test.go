package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/tianruen-vp/human-agent-interaction/internal/groq"
	"github.com/tianruen-vp/human-agent-interaction/internal/state"
)

func TestExtract(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		textResponse(`{"name": "MoonCat", "target": "cat lovers", "idea": "a cat coin",
			"edge": "cutest memes", "references": "@cats", "stage": "pre-launch",
			"services": ["meme images"], "price": 5, "paid": false}`),
	}}
	e := NewExtractor(completer)

	req, err := e.Extract(context.Background(), []string{"User: hi", "Agent: hello"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if req.Name != "MoonCat" || req.Target != "cat lovers" || req.Stage != "pre-launch" {
		t.Errorf("requirements: %+v", req)
	}
	if len(req.Services) != 1 || req.Services[0] != "meme images" {
		t.Errorf("services: %v", req.Services)
	}
	if req.Price != 5 || req.Paid {
		t.Errorf("price/paid: %v/%v", req.Price, req.Paid)
	}

	call := completer.requests[0]
	if call.ResponseFormat == nil || call.ResponseFormat.Type != "json_object" {
		t.Errorf("response format: %+v", call.ResponseFormat)
	}
}

func TestExtractGarbageYieldsParseError(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		textResponse("sorry, I can't do that"),
	}}
	e := NewExtractor(completer)

	_, err := e.Extract(context.Background(), []string{"User: hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error type: %T", err)
	}
	if parseErr.Raw != "sorry, I can't do that" {
		t.Errorf("raw payload: %q", parseErr.Raw)
	}
}

func TestParseRequirementsCoercions(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, req state.Requirements)
	}{
		{
			"bare string service becomes list",
			`{"services": "meme images"}`,
			func(t *testing.T, req state.Requirements) {
				if len(req.Services) != 1 || req.Services[0] != "meme images" {
					t.Errorf("services: %v", req.Services)
				}
			},
		},
		{
			"price as string with unit",
			`{"price": "50 USDC"}`,
			func(t *testing.T, req state.Requirements) {
				if req.Price != 50 {
					t.Errorf("price: %v", req.Price)
				}
			},
		},
		{
			"price null",
			`{"price": null}`,
			func(t *testing.T, req state.Requirements) {
				if req.Price != 0 {
					t.Errorf("price: %v", req.Price)
				}
			},
		},
		{
			"price none",
			`{"price": "none"}`,
			func(t *testing.T, req state.Requirements) {
				if req.Price != 0 {
					t.Errorf("price: %v", req.Price)
				}
			},
		},
		{
			"paid as string",
			`{"paid": "True"}`,
			func(t *testing.T, req state.Requirements) {
				if !req.Paid {
					t.Error("paid should coerce from string")
				}
			},
		},
		{
			"missing fields default",
			`{}`,
			func(t *testing.T, req state.Requirements) {
				if req.Name != "" || req.Services != nil || req.Price != 0 || req.Paid {
					t.Errorf("defaults: %+v", req)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRequirements(tt.raw)
			if err != nil {
				t.Fatalf("parseRequirements failed: %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestParseRequirementsRejectsNonNumericPrice(t *testing.T) {
	if _, err := parseRequirements(`{"price": "a lot"}`); err == nil {
		t.Fatal("expected error for non-numeric price")
	}
}
