package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tianruen-vp/human-agent-interaction/internal/groq"
	"github.com/tianruen-vp/human-agent-interaction/internal/payment"
	"github.com/tianruen-vp/human-agent-interaction/internal/pricing"
)

// Action names in the negotiation's action space.
const (
	actionDeterminePrice  = "determine_price"
	actionCheckPayment    = "check_payment"
	actionEndConversation = "end_conversation"
)

// turnState accumulates what the tool calls of one turn decided.
type turnState struct {
	terminal bool
	outcome  *ActionOutcome
	quoted   float64
}

// ActionOutcome reports the last price/payment action a turn invoked.
type ActionOutcome struct {
	Name     string
	Feedback string  // the tool result fed back to the model
	Paid     bool    // true only for a positive payment verdict
	Price    float64 // quoted price, when determine_price ran
	Amount   float64 // amount actually paid, when check_payment matched
}

func toolDefinitions() []groq.ToolDefinition {
	return []groq.ToolDefinition{
		{
			Type: "function",
			Function: groq.FunctionDefinition{
				Name:        actionDeterminePrice,
				Description: "Determine the price of a package based on the services the customer wants. Determine which services the user wants and then add up the prices of the services.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"services": {
							"type": "array",
							"items": {"type": "string"},
							"description": "The services that the customer wants. Can be a combination of 'token narrative & GTM strategy', 'avatar design', 'meme images', 'background music generation', 'launch video', or 'on-chain minting'."
						}
					},
					"required": ["services"]
				}`),
			},
		},
		{
			Type: "function",
			Function: groq.FunctionDefinition{
				Name:        actionCheckPayment,
				Description: "Check if the user has paid for the product based on the transaction hash they provided. Only use this after you have asked the user to pay.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"transaction_hash": {
							"type": "string",
							"description": "The transaction hash of the payment."
						},
						"price": {
							"type": "number",
							"description": "The price of the product, from the conversation history."
						}
					},
					"required": ["transaction_hash", "price"]
				}`),
			},
		},
		{
			Type: "function",
			Function: groq.FunctionDefinition{
				Name:        actionEndConversation,
				Description: "Mark the conversation as complete. Call this before your final reply when the engagement is wrapped up.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"reason": {
							"type": "string",
							"description": "Why the conversation is over."
						}
					}
				}`),
			},
		},
	}
}

// dispatch executes one tool call and returns the result text fed back to
// the model.
func (d *Driver) dispatch(ctx context.Context, call groq.ToolCall, st *turnState) string {
	switch call.Function.Name {
	case actionDeterminePrice:
		return d.determinePrice(call.Function.Arguments, st)
	case actionCheckPayment:
		return d.checkPayment(ctx, call.Function.Arguments, st)
	case actionEndConversation:
		st.terminal = true
		return "Conversation marked complete. Give the user your final reply."
	default:
		return fmt.Sprintf("Unknown function %q.", call.Function.Name)
	}
}

func (d *Driver) determinePrice(arguments string, st *turnState) string {
	var args struct {
		Services []string `json:"services"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || len(args.Services) == 0 {
		return "No services provided. Please input services."
	}

	price := pricing.Quote(args.Services)
	st.quoted = price
	feedback := fmt.Sprintf("The price of the services is %s USDC.", formatUSDC(price))
	st.outcome = &ActionOutcome{Name: actionDeterminePrice, Feedback: feedback, Price: price}
	return feedback
}

func (d *Driver) checkPayment(ctx context.Context, arguments string, st *turnState) string {
	var args struct {
		TransactionHash string  `json:"transaction_hash"`
		Price           float64 `json:"price"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "Invalid arguments. Please provide a transaction hash and the price."
	}
	if args.TransactionHash == "" {
		return "No transaction hash provided. Please ask the user to provide a valid transaction hash."
	}
	if args.Price <= 0 {
		return "No price provided. Please input a valid price."
	}

	verdict, err := d.verifier.Verify(ctx, args.TransactionHash, args.Price)
	if err != nil {
		return fmt.Sprintf("Failed to check payment: %v. Please try again.", err)
	}

	feedback := d.paymentFeedback(verdict, args.Price)
	st.outcome = &ActionOutcome{
		Name:     actionCheckPayment,
		Feedback: feedback,
		Paid:     verdict.OK,
		Price:    args.Price,
		Amount:   verdict.Amount,
	}
	return feedback
}

// paymentFeedback turns a verdict into the guidance the model relays to the
// user.
func (d *Driver) paymentFeedback(verdict payment.Verdict, price float64) string {
	switch verdict.Reason {
	case payment.ReasonSuccess:
		return fmt.Sprintf("SUCCESS: The user has paid %s USDC. Please proceed with the next step.", formatUSDC(verdict.Amount))
	case payment.ReasonNotFound:
		return "Transaction not found on any supported network. Please ask the user to provide a valid transaction hash."
	case payment.ReasonNotTokenTransfer:
		return "The transaction is not a USDC transfer. Please ask the user to pay in USDC and send the correct transaction hash."
	case payment.ReasonStale:
		return "The transaction was made more than 10 minutes ago. Please ask the user to make a new payment and send the transaction hash within 10 minutes."
	case payment.ReasonWrongRecipient:
		return fmt.Sprintf("The transaction was not made to the correct address. Please ask the user to make a new payment to the correct address, which is %s.", d.wallet)
	case payment.ReasonUnderpaid:
		return fmt.Sprintf("The transaction amount is less than the price of the product. The user has paid %s USDC. Please ask the user to pay the remaining %s USDC.",
			formatUSDC(verdict.Amount), formatUSDC(verdict.Shortfall))
	default:
		return "The user has not paid for the product. Please ask the user to make a new payment."
	}
}

// formatUSDC renders an amount without trailing zero noise.
func formatUSDC(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	if s[len(s)-3:] == ".00" {
		return s[:len(s)-3]
	}
	return s
}
