// Package payment verifies on-chain USDC payments against blockchain
// explorer APIs. Networks are tried in a fixed order; the first network
// that knows the transaction decides the verdict.
package payment

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultStaleness is how old a payment may be and still count.
	DefaultStaleness = 10 * time.Minute
	// defaultLookupTimeout bounds each explorer round-trip.
	defaultLookupTimeout = 10 * time.Second
)

// Reason is the machine-readable outcome of a payment check.
type Reason string

const (
	ReasonSuccess          Reason = "success"
	ReasonNotFound         Reason = "not_found"
	ReasonNotTokenTransfer Reason = "not_token_transfer"
	ReasonWrongRecipient   Reason = "wrong_recipient"
	ReasonStale            Reason = "stale"
	ReasonUnderpaid        Reason = "underpaid"
)

// Verdict is the structured result of one payment check.
type Verdict struct {
	OK        bool
	Reason    Reason
	Network   string  // network that knew the transaction, when any did
	Amount    float64 // decoded transfer amount, human units
	Recipient string  // decoded transfer recipient
	Shortfall float64 // only set for underpaid
}

// Network describes one ledger network the verifier consults, in order.
type Network struct {
	Name          string
	ExplorerURL   string
	APIKey        string
	TokenContract common.Address
	TokenDecimals int
}

// Verifier checks a transaction reference against the configured networks.
type Verifier struct {
	networks   []Network
	receiving  common.Address
	staleness  time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithStaleness overrides the payment staleness window.
func WithStaleness(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.staleness = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) {
		v.httpClient = c
	}
}

// WithLogger sets a structured logger for the verifier.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

// WithClock overrides the time source (for testing staleness).
func WithClock(fn func() time.Time) Option {
	return func(v *Verifier) {
		v.now = fn
	}
}

// NewVerifier creates a verifier for the receiving address over the given
// network list. Network order is significant: the first match wins.
func NewVerifier(receiving common.Address, networks []Network, opts ...Option) *Verifier {
	v := &Verifier{
		networks:   networks,
		receiving:  receiving,
		staleness:  DefaultStaleness,
		httpClient: &http.Client{Timeout: defaultLookupTimeout},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the transaction against each network in order. Lookup
// failures and unknown transactions move on to the next network; only after
// every network has been exhausted does the verdict report not found.
// The error return is reserved for context cancellation.
func (v *Verifier) Verify(ctx context.Context, txHash string, expected float64) (Verdict, error) {
	for _, n := range v.networks {
		verdict, found, err := v.verifyOn(ctx, n, txHash, expected)
		if err != nil {
			if ctx.Err() != nil {
				return Verdict{}, ctx.Err()
			}
			v.logger.Warn("explorer lookup failed", "network", n.Name, "tx", txHash, "error", err)
			continue
		}
		if !found {
			continue
		}
		v.logger.Info("transaction found", "network", n.Name, "tx", txHash,
			"ok", verdict.OK, "reason", string(verdict.Reason), "amount", verdict.Amount)
		return verdict, nil
	}
	return Verdict{OK: false, Reason: ReasonNotFound}, nil
}

// verifyOn runs the full check on one network. found is false when the
// network does not know the transaction.
func (v *Verifier) verifyOn(ctx context.Context, n Network, txHash string, expected float64) (Verdict, bool, error) {
	tx, err := v.lookupTransaction(ctx, n, txHash)
	if err != nil {
		return Verdict{}, false, err
	}
	if tx == nil {
		return Verdict{}, false, nil
	}

	verdict := Verdict{Network: n.Name}

	// A payment must be a token transfer sent to this network's USDC
	// contract; anything else cannot carry a USDC amount.
	if !common.IsHexAddress(tx.To) || common.HexToAddress(tx.To) != n.TokenContract {
		verdict.Reason = ReasonNotTokenTransfer
		return verdict, true, nil
	}

	recipient, units, err := decodeTransfer(common.FromHex(tx.Input))
	if err != nil {
		v.logger.Warn("decode transfer input", "network", n.Name, "tx", txHash, "error", err)
		verdict.Reason = ReasonNotTokenTransfer
		return verdict, true, nil
	}

	blockTime, err := v.lookupBlockTime(ctx, n, tx.BlockNumber)
	if err != nil {
		// Treat like a lookup failure so the next network gets a chance.
		return Verdict{}, false, err
	}

	verdict.Amount = scaleAmount(units, n.TokenDecimals)
	verdict.Recipient = recipient.Hex()

	// Exactly at the window is still acceptable; one unit past is not.
	if v.now().UTC().Sub(blockTime) > v.staleness {
		verdict.Reason = ReasonStale
		return verdict, true, nil
	}

	if recipient != v.receiving {
		verdict.Reason = ReasonWrongRecipient
		return verdict, true, nil
	}

	if verdict.Amount < expected {
		verdict.Reason = ReasonUnderpaid
		verdict.Shortfall = expected - verdict.Amount
		return verdict, true, nil
	}

	verdict.OK = true
	verdict.Reason = ReasonSuccess
	return verdict, true, nil
}
