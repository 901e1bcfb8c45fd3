// Package chat drives one negotiation per counterparty: the persona turn
// loop, the action space (price quote, payment check), and the requirement
// extraction that runs when a payment verifies.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tianruen-vp/human-agent-interaction/internal/groq"
	"github.com/tianruen-vp/human-agent-interaction/internal/payment"
	"github.com/tianruen-vp/human-agent-interaction/internal/state"
)

// Transcript line prefixes. The negotiation transcript is stored as plain
// strings in the agent state; these prefixes recover the speaker roles.
const (
	userPrefix  = "User: "
	agentPrefix = "Agent: "
)

// maxToolIterations bounds the tool-calling round-trips in one turn.
const maxToolIterations = 4

// maxReplyRunes is the hard cap for a posted reply.
const maxReplyRunes = 280

// Completer is the single chat completion call the driver depends on.
type Completer interface {
	ChatCompletion(ctx context.Context, req groq.ChatRequest) (*groq.ChatResponse, error)
}

// Verifier checks a payment transaction against the supported networks.
type Verifier interface {
	Verify(ctx context.Context, txHash string, expected float64) (payment.Verdict, error)
}

// Turn is the result of advancing a negotiation by one inbound message.
type Turn struct {
	Reply       string
	Terminal    bool
	Action      *ActionOutcome
	Negotiation state.Negotiation // updated session state; apply on success
}

// Driver advances negotiation sessions. A turn either succeeds completely
// (reply text, updated transcript, refreshed memory) or fails with no state
// change, so the caller can retry the same inbound message next cycle.
type Driver struct {
	client    Completer
	verifier  Verifier
	extractor *Extractor
	model     string
	wallet    string
	logger    *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithModel overrides the completion model.
func WithModel(model string) DriverOption {
	return func(d *Driver) {
		d.model = model
	}
}

// WithDriverLogger sets a structured logger for the driver.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = l
	}
}

// NewDriver creates a negotiation driver. wallet is the receiving address
// quoted to users in the sales protocol.
func NewDriver(client Completer, verifier Verifier, wallet string, opts ...DriverOption) *Driver {
	d := &Driver{
		client:   client,
		verifier: verifier,
		model:    groq.DefaultModel,
		wallet:   wallet,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.extractor = NewExtractor(client, WithExtractorModel(d.model), WithExtractorLogger(d.logger))
	return d
}

// Advance runs one conversational turn for the counterparty: persona
// completion over the transcript plus the inbound message, tool execution,
// and, after a positive payment verdict, requirement extraction over the
// full conversation.
func (d *Driver) Advance(ctx context.Context, neg state.Negotiation, inbound string) (*Turn, error) {
	messages := d.conversationMessages(neg, inbound)
	st := &turnState{}

	reply, err := d.runToolLoop(ctx, messages, st)
	if err != nil {
		return nil, err
	}
	reply = truncateReply(reply)

	neg.Transcript = append(append([]string(nil), neg.Transcript...),
		userPrefix+inbound, agentPrefix+reply)

	if st.outcome != nil && st.outcome.Name == actionDeterminePrice {
		neg.Memory.Price = st.outcome.Price
	}

	if st.outcome != nil && st.outcome.Paid {
		extracted, err := d.extractor.Extract(ctx, neg.Transcript)
		if err != nil {
			return nil, fmt.Errorf("extract requirements after payment: %w", err)
		}
		// Extracted fields replace the working memory, except the payment
		// fields just established by the verdict.
		extracted.Paid = true
		extracted.Price = st.outcome.Price
		neg.Memory = extracted
	}

	return &Turn{
		Reply:       reply,
		Terminal:    st.terminal,
		Action:      st.outcome,
		Negotiation: neg,
	}, nil
}

// conversationMessages rebuilds the completion messages from the stored
// transcript plus the new inbound message.
func (d *Driver) conversationMessages(neg state.Negotiation, inbound string) []groq.Message {
	system := fmt.Sprintf(personaPrompt, d.wallet)
	if neg.CounterpartyName != "" {
		system += fmt.Sprintf("\n\nYou are talking to %s.", neg.CounterpartyName)
	}

	messages := []groq.Message{{Role: "system", Content: system}}
	for _, line := range neg.Transcript {
		switch {
		case strings.HasPrefix(line, userPrefix):
			messages = append(messages, groq.Message{Role: "user", Content: strings.TrimPrefix(line, userPrefix)})
		case strings.HasPrefix(line, agentPrefix):
			messages = append(messages, groq.Message{Role: "assistant", Content: strings.TrimPrefix(line, agentPrefix)})
		default:
			messages = append(messages, groq.Message{Role: "user", Content: line})
		}
	}
	return append(messages, groq.Message{Role: "user", Content: inbound})
}

// runToolLoop calls the model, executes any requested tool calls, feeds the
// results back, and repeats until the model produces a final text reply.
// When the iteration budget runs out it forces a text-only completion.
func (d *Driver) runToolLoop(ctx context.Context, messages []groq.Message, st *turnState) (string, error) {
	tools := toolDefinitions()

	for iter := 0; iter < maxToolIterations; iter++ {
		resp, err := d.client.ChatCompletion(ctx, groq.ChatRequest{
			Model:    d.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion (iter %d): %w", iter, err)
		}

		calls := resp.ToolCallsContent()
		if len(calls) == 0 {
			return resp.TextContent(), nil
		}

		messages = append(messages, groq.Message{Role: "assistant", ToolCalls: calls})
		for _, call := range calls {
			result := d.dispatch(ctx, call, st)
			d.logger.Debug("action invoked", "name", call.Function.Name, "result", result)
			messages = append(messages, groq.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	// Iteration budget exhausted: one final call without tools to force text.
	resp, err := d.client.ChatCompletion(ctx, groq.ChatRequest{
		Model:    d.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("final chat completion: %w", err)
	}
	return resp.TextContent(), nil
}

// truncateReply enforces the platform's message length limit.
func truncateReply(reply string) string {
	runes := []rune(strings.TrimSpace(reply))
	if len(runes) <= maxReplyRunes {
		return string(runes)
	}
	return string(runes[:maxReplyRunes-1]) + "…"
}
