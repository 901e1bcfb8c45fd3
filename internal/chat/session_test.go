package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/tianruen-vp/human-agent-interaction/internal/groq"
	"github.com/tianruen-vp/human-agent-interaction/internal/payment"
	"github.com/tianruen-vp/human-agent-interaction/internal/state"
)

// scriptedCompleter pops one canned response per call and records what
// each call received.
type scriptedCompleter struct {
	responses []*groq.ChatResponse
	errs      []error
	requests  []groq.ChatRequest
}

func (s *scriptedCompleter) ChatCompletion(_ context.Context, req groq.ChatRequest) (*groq.ChatResponse, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errors.New("script exhausted")
	}
	return s.responses[i], nil
}

func textResponse(text string) *groq.ChatResponse {
	return &groq.ChatResponse{Choices: []groq.Choice{{
		Message: groq.Message{Role: "assistant", Content: text},
	}}}
}

func toolResponse(name, arguments string) *groq.ChatResponse {
	return &groq.ChatResponse{Choices: []groq.Choice{{
		Message: groq.Message{Role: "assistant", ToolCalls: []groq.ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: groq.FunctionCall{Name: name, Arguments: arguments},
		}}},
	}}}
}

// fixedVerifier returns one canned verdict.
type fixedVerifier struct {
	verdict payment.Verdict
	err     error
	hashes  []string
}

func (f *fixedVerifier) Verify(_ context.Context, txHash string, _ float64) (payment.Verdict, error) {
	f.hashes = append(f.hashes, txHash)
	return f.verdict, f.err
}

const testWallet = "0x140591903f35375AA78B01272882C2De3AeFE21c"

func newNegotiation() state.Negotiation {
	return state.Negotiation{CounterpartyID: "u1", CounterpartyName: "alice"}
}

func TestAdvancePlainReply(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		textResponse("Hey alice, tell me about your token!"),
	}}
	d := NewDriver(completer, &fixedVerifier{}, testWallet)

	turn, err := d.Advance(context.Background(), newNegotiation(), "I want to launch a token")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if turn.Terminal {
		t.Error("plain reply should not be terminal")
	}
	if turn.Reply != "Hey alice, tell me about your token!" {
		t.Errorf("reply: %q", turn.Reply)
	}
	if got := len(turn.Negotiation.Transcript); got != 2 {
		t.Fatalf("transcript length: got %d, want 2", got)
	}
	if turn.Negotiation.Transcript[0] != "User: I want to launch a token" {
		t.Errorf("transcript[0]: %q", turn.Negotiation.Transcript[0])
	}
}

func TestAdvanceDeterminePrice(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		toolResponse(actionDeterminePrice, `{"services": ["meme images", "launch video"]}`),
		textResponse("That package is 25 USDC."),
	}}
	d := NewDriver(completer, &fixedVerifier{}, testWallet)

	turn, err := d.Advance(context.Background(), newNegotiation(), "how much for memes and a video?")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if turn.Action == nil || turn.Action.Name != actionDeterminePrice {
		t.Fatalf("action: %+v", turn.Action)
	}
	if turn.Action.Price != 25 {
		t.Errorf("price: got %v, want 25", turn.Action.Price)
	}
	if turn.Negotiation.Memory.Price != 25 {
		t.Errorf("memory price: got %v, want 25", turn.Negotiation.Memory.Price)
	}

	// The tool result must have been fed back before the final reply.
	second := completer.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Errorf("tool feedback message: %+v", last)
	}
}

func TestAdvancePaymentVerifiedRunsExtraction(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		toolResponse(actionCheckPayment, `{"transaction_hash": "0xabc", "price": 25}`),
		textResponse("Payment received, we're on it!"),
		textResponse(`{"name": "MoonCat", "target": "cat lovers", "idea": "a cat coin",
			"edge": "cutest memes", "references": "@cats", "stage": "idea",
			"services": ["meme images", "launch video"], "price": 25, "paid": true}`),
	}}
	verifier := &fixedVerifier{verdict: payment.Verdict{OK: true, Reason: payment.ReasonSuccess, Amount: 25}}
	d := NewDriver(completer, verifier, testWallet)

	turn, err := d.Advance(context.Background(), newNegotiation(), "paid! tx 0xabc")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if turn.Action == nil || !turn.Action.Paid {
		t.Fatalf("action: %+v", turn.Action)
	}
	mem := turn.Negotiation.Memory
	if mem.Name != "MoonCat" || len(mem.Services) != 2 {
		t.Errorf("extracted memory: %+v", mem)
	}
	if !mem.Paid || mem.Price != 25 {
		t.Errorf("payment fields: paid=%v price=%v", mem.Paid, mem.Price)
	}
	if len(verifier.hashes) != 1 || verifier.hashes[0] != "0xabc" {
		t.Errorf("verifier hashes: %v", verifier.hashes)
	}
}

func TestAdvanceFailedPaymentIsNotPaid(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		toolResponse(actionCheckPayment, `{"transaction_hash": "0xabc", "price": 10}`),
		textResponse("You're 2 USDC short, send the rest and ping me."),
	}}
	verifier := &fixedVerifier{verdict: payment.Verdict{
		Reason: payment.ReasonUnderpaid, Amount: 8, Shortfall: 2,
	}}
	d := NewDriver(completer, verifier, testWallet)

	turn, err := d.Advance(context.Background(), newNegotiation(), "paid! tx 0xabc")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if turn.Action == nil || turn.Action.Paid {
		t.Fatalf("underpaid turn must not be paid: %+v", turn.Action)
	}
	// No extraction call: tool turn + final reply only.
	if len(completer.requests) != 2 {
		t.Errorf("completions: got %d, want 2", len(completer.requests))
	}
}

func TestAdvanceEndConversationIsTerminal(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		toolResponse(actionEndConversation, `{"reason": "customer declined"}`),
		textResponse("No worries, come back any time!"),
	}}
	d := NewDriver(completer, &fixedVerifier{}, testWallet)

	turn, err := d.Advance(context.Background(), newNegotiation(), "not interested, thanks")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !turn.Terminal {
		t.Error("end_conversation should make the turn terminal")
	}
}

func TestAdvanceCompletionErrorFailsTurn(t *testing.T) {
	completer := &scriptedCompleter{errs: []error{errors.New("upstream down")}}
	d := NewDriver(completer, &fixedVerifier{}, testWallet)

	neg := newNegotiation()
	neg.Transcript = []string{"User: hi", "Agent: hey"}

	_, err := d.Advance(context.Background(), neg, "hello?")
	if err == nil {
		t.Fatal("expected error")
	}
	// Caller keeps the old negotiation; nothing should have mutated it.
	if len(neg.Transcript) != 2 {
		t.Errorf("transcript mutated on failure: %v", neg.Transcript)
	}
}

func TestAdvanceExtractionFailureFailsTurn(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		toolResponse(actionCheckPayment, `{"transaction_hash": "0xabc", "price": 25}`),
		textResponse("Payment received!"),
		textResponse("definitely not json"),
	}}
	verifier := &fixedVerifier{verdict: payment.Verdict{OK: true, Reason: payment.ReasonSuccess, Amount: 25}}
	d := NewDriver(completer, verifier, testWallet)

	_, err := d.Advance(context.Background(), newNegotiation(), "paid! tx 0xabc")
	if err == nil {
		t.Fatal("expected error when extraction payload is garbage")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("error chain missing ParseError: %v", err)
	}
}

func TestAdvanceTranscriptRolesRoundTrip(t *testing.T) {
	completer := &scriptedCompleter{responses: []*groq.ChatResponse{
		textResponse("Sounds great."),
	}}
	d := NewDriver(completer, &fixedVerifier{}, testWallet)

	neg := newNegotiation()
	neg.Transcript = []string{"User: hi", "Agent: hey alice"}

	if _, err := d.Advance(context.Background(), neg, "let's do it"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	msgs := completer.requests[0].Messages
	// system + 2 history + inbound
	if len(msgs) != 4 {
		t.Fatalf("messages: got %d, want 4", len(msgs))
	}
	if msgs[1].Role != "user" || msgs[1].Content != "hi" {
		t.Errorf("history[0]: %+v", msgs[1])
	}
	if msgs[2].Role != "assistant" || msgs[2].Content != "hey alice" {
		t.Errorf("history[1]: %+v", msgs[2])
	}
	if msgs[3].Role != "user" || msgs[3].Content != "let's do it" {
		t.Errorf("inbound: %+v", msgs[3])
	}
}

func TestTruncateReply(t *testing.T) {
	long := make([]rune, 400)
	for i := range long {
		long[i] = 'a'
	}

	got := truncateReply(string(long))
	if runes := []rune(got); len(runes) != maxReplyRunes {
		t.Errorf("truncated length: got %d, want %d", len(runes), maxReplyRunes)
	}
	if short := truncateReply("  hello  "); short != "hello" {
		t.Errorf("short reply: %q", short)
	}
}
