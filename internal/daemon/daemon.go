// Package daemon runs the agent loop: poll mentions, drive negotiation
// turns, post replies, and fold the results back into the state store.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/tianruen-vp/human-agent-interaction/internal/chat"
	"github.com/tianruen-vp/human-agent-interaction/internal/config"
	"github.com/tianruen-vp/human-agent-interaction/internal/groq"
	"github.com/tianruen-vp/human-agent-interaction/internal/jobs"
	"github.com/tianruen-vp/human-agent-interaction/internal/payment"
	"github.com/tianruen-vp/human-agent-interaction/internal/state"
	"github.com/tianruen-vp/human-agent-interaction/internal/twitter"
)

// MentionSource is the social platform surface the daemon drives.
type MentionSource interface {
	Mentions(ctx context.Context) (*twitter.MentionBatch, error)
	Reply(ctx context.Context, tweetID, text string) (string, error)
}

// SessionDriver advances one negotiation turn.
type SessionDriver interface {
	Advance(ctx context.Context, neg state.Negotiation, inbound string) (*chat.Turn, error)
}

// JobArchive receives materialized jobs for fulfillment pickup.
type JobArchive interface {
	Insert(job state.Job) error
}

// Daemon owns the poll loop. One decision is in flight at a time; all state
// mutation goes through the store's Apply.
type Daemon struct {
	cfg    *config.Config
	log    *Logger
	store  *state.Store
	source MentionSource
	driver SessionDriver
	jobs   JobArchive

	pollInterval time.Duration
	walletPNG    []byte
	webPort      int
	startTime    time.Time
}

// New wires the daemon from config: twitter client, groq client, payment
// verifier, chat driver, snapshot-backed state store, and the jobs archive.
func New(cfg *config.Config, log *Logger) (*Daemon, error) {
	slogger := log.Slog()

	snapFile, err := state.NewSnapshotFile(cfg.State.Dir, time.Now())
	if err != nil {
		return nil, fmt.Errorf("create state snapshot: %w", err)
	}

	store := state.NewStore(
		state.WithSnapshotFile(snapFile),
		state.WithStoreLogger(slogger),
	)

	twOpts := []twitter.Option{twitter.WithLogger(slogger)}
	if cfg.Twitter.IgnoreFile != "" {
		twOpts = append(twOpts, twitter.WithIgnoreFile(cfg.Twitter.IgnoreFile))
	}
	tw := twitter.NewClient(cfg.Twitter.BearerToken, cfg.Twitter.BotUserID, twOpts...)

	gqOpts := []groq.Option{groq.WithLogger(slogger)}
	if cfg.Groq.BaseURL != "" {
		gqOpts = append(gqOpts, groq.WithBaseURL(cfg.Groq.BaseURL))
	}
	gq := groq.NewClient(cfg.Groq.APIKey, gqOpts...)

	if !common.IsHexAddress(cfg.Wallet.Address) {
		return nil, fmt.Errorf("wallet address %q is not a valid hex address", cfg.Wallet.Address)
	}
	networks := make([]payment.Network, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		if !common.IsHexAddress(n.TokenContract) {
			return nil, fmt.Errorf("network %s: token contract %q is not a valid hex address", n.Name, n.TokenContract)
		}
		networks = append(networks, payment.Network{
			Name:          n.Name,
			ExplorerURL:   n.ExplorerURL,
			APIKey:        n.APIKey,
			TokenContract: common.HexToAddress(n.TokenContract),
			TokenDecimals: n.TokenDecimals,
		})
	}
	verifier := payment.NewVerifier(
		common.HexToAddress(cfg.Wallet.Address),
		networks,
		payment.WithStaleness(time.Duration(cfg.Payment.StalenessMinutes)*time.Minute),
		payment.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Payment.LookupTimeoutSeconds) * time.Second}),
		payment.WithLogger(slogger),
	)

	driver := chat.NewDriver(gq, verifier, cfg.Wallet.Address,
		chat.WithModel(cfg.Groq.Model),
		chat.WithDriverLogger(slogger),
	)

	archive, err := jobs.Open(cfg.State.JobsDB)
	if err != nil {
		return nil, fmt.Errorf("open jobs archive: %w", err)
	}

	walletPNG, err := qrcode.Encode(cfg.Wallet.Address, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode wallet qr: %w", err)
	}

	return &Daemon{
		cfg:          cfg,
		log:          log,
		store:        store,
		source:       tw,
		driver:       driver,
		jobs:         archive,
		pollInterval: time.Duration(cfg.Twitter.PollSeconds) * time.Second,
		walletPNG:    walletPNG,
		startTime:    time.Now(),
	}, nil
}

// Run polls until the context ends. Each cycle fetches mentions, merges
// them into state, then drains the unresolved backlog one turn at a time.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Header("Sales Agent")
	d.log.Info("Receiving wallet: %s", d.cfg.Wallet.Address)
	d.writeWalletQR()

	if d.cfg.WebEnabled() {
		d.startWeb()
	}

	for {
		d.runCycle(ctx)

		select {
		case <-ctx.Done():
			d.log.Info("Shutting down")
			return ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

// runCycle is one fetch-and-drain pass. Failures leave the affected mention
// unresolved so the next cycle retries it.
func (d *Daemon) runCycle(ctx context.Context) {
	batch, err := d.source.Mentions(ctx)
	if err != nil {
		d.log.Warn("Fetch mentions: %v", err)
		return
	}

	snap := d.store.Apply(
		state.MentionsFetched{Tweets: batch.Tweets},
		state.DirectoryFetched{Users: batch.Users},
	)

	if len(snap.UnresolvedMentions) == 0 {
		d.log.Debug("No unresolved mentions, waiting")
		return
	}

	for len(snap.UnresolvedMentions) > 0 {
		mention := snap.UnresolvedMentions[0]
		next, err := d.handleMention(ctx, snap, mention)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn("Handle mention %s: %v", mention.ID, err)
			return
		}
		snap = next
	}
}

// handleMention drives one negotiation turn for the mention and applies the
// resulting updates as one atomic batch. The returned snapshot no longer
// contains the mention.
func (d *Daemon) handleMention(ctx context.Context, snap state.Snapshot, mention twitter.Tweet) (state.Snapshot, error) {
	// Replying twice to one tweet is never acceptable; drop the mention
	// without any session work if it somehow slipped past the ingestion
	// filter.
	for _, id := range snap.HandledTweetIDs {
		if id == mention.ID {
			d.log.Warn("Mention %s already handled, dropping", mention.ID)
			return d.store.Apply(state.MentionsFetched{Tweets: snap.UnresolvedMentions}), nil
		}
	}

	neg, open := snap.Negotiations[mention.AuthorID]
	if !open {
		neg = state.Negotiation{
			CounterpartyID:   mention.AuthorID,
			CounterpartyName: snap.Directory[mention.AuthorID],
		}
	}
	if name, ok := snap.Directory[mention.AuthorID]; ok && name != "" {
		neg.CounterpartyName = name
	}

	inbound := twitter.StripMention(mention.Text)
	d.log.Info("@%s: %s", neg.CounterpartyName, inbound)

	turn, err := d.driver.Advance(ctx, neg, inbound)
	if err != nil {
		return snap, fmt.Errorf("advance session: %w", err)
	}

	postedID, err := d.source.Reply(ctx, mention.ID, turn.Reply)
	if err != nil {
		return snap, fmt.Errorf("post reply: %w", err)
	}
	d.log.Info("Replied to %s: %s", mention.ID, turn.Reply)

	// Re-applying the current backlog after MarkHandled drops the mention:
	// the handled-id append ranks before the mention replacement, so the
	// replacement's handled filter removes it.
	updates := []state.Update{
		state.MarkHandled{TweetID: mention.ID},
		state.MentionsFetched{Tweets: snap.UnresolvedMentions},
	}

	paid := turn.Action != nil && turn.Action.Paid
	switch {
	case paid:
		updates = append(updates,
			state.PaymentVerified{Negotiation: turn.Negotiation, LastRepliedTweetID: postedID},
			state.SessionEnded{CounterpartyID: mention.AuthorID},
		)
	case turn.Terminal:
		updates = append(updates, state.SessionEnded{CounterpartyID: mention.AuthorID})
	default:
		updates = append(updates, state.SessionProgressed{Negotiation: turn.Negotiation})
	}

	known := len(snap.Jobs)
	next := d.store.Apply(updates...)

	if paid {
		d.archiveNewJobs(next.Jobs[known:])
	}

	return next, nil
}

// archiveNewJobs copies freshly materialized jobs into the sqlite archive.
func (d *Daemon) archiveNewJobs(fresh []state.Job) {
	for _, job := range fresh {
		if err := d.jobs.Insert(job); err != nil {
			d.log.Warn("Archive job %s: %v", job.ID, err)
			continue
		}
		d.log.Info("Job materialized for @%s: %v", job.CounterpartyName, job.Services)
	}
}

// writeWalletQR drops a scannable QR of the receiving address next to the
// state files, handy when pointing people at the wallet from a phone.
func (d *Daemon) writeWalletQR() {
	path := filepath.Join(d.cfg.State.Dir, "wallet.png")
	if err := os.MkdirAll(d.cfg.State.Dir, 0o755); err != nil {
		d.log.Warn("Create state dir: %v", err)
		return
	}
	if err := os.WriteFile(path, d.walletPNG, 0o644); err != nil {
		d.log.Warn("Write wallet QR: %v", err)
		return
	}
	d.log.Info("Wallet QR written to %s", path)
}
