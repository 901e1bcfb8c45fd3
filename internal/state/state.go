// Package state owns the process-wide agent state: the unresolved mention
// backlog, the set of already-handled tweets, the open negotiation per
// counterparty, and the jobs materialized by verified payments.
//
// The store is the single source of truth. Every mutation goes through
// Apply, which serializes writers and persists a snapshot after each batch,
// so readers always observe the last fully-applied state.
package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tianruen-vp/human-agent-interaction/internal/twitter"
)

// Requirements is the working memory of a negotiation: the structured
// requirement record accumulated from the conversation. JSON keys match the
// extraction output shape.
type Requirements struct {
	Name       string   `json:"name"`
	Target     string   `json:"target"`
	Idea       string   `json:"idea"`
	Edge       string   `json:"edge"`
	References string   `json:"references"`
	Stage      string   `json:"stage"`
	Services   []string `json:"services"`
	Price      float64  `json:"price"`
	Paid       bool     `json:"paid"`
}

// Negotiation is the per-counterparty conversation state. An entry exists in
// the store exactly while the conversation is unfinished.
type Negotiation struct {
	CounterpartyID   string       `json:"counterparty_id"`
	CounterpartyName string       `json:"counterparty_name"`
	Transcript       []string     `json:"transcript"`
	Memory           Requirements `json:"memory"`
}

// Job is a finalized, payment-verified unit of work ready for fulfillment.
// It carries the negotiation's requirements without the transient payment
// fields, plus back-references to the conversation it came from.
type Job struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Target             string    `json:"target"`
	Idea               string    `json:"idea"`
	Edge               string    `json:"edge"`
	References         string    `json:"references"`
	Stage              string    `json:"stage"`
	Services           []string  `json:"services"`
	LastRepliedTweetID string    `json:"last_replied_tweet_id"`
	CounterpartyID     string    `json:"counterparty_id"`
	CounterpartyName   string    `json:"counterparty_name"`
	CreatedAt          time.Time `json:"created_at"`
}

// Snapshot is one fully-applied view of the agent state.
type Snapshot struct {
	UnresolvedMentions []twitter.Tweet        `json:"unresolved_mentions"`
	HandledTweetIDs    []string               `json:"handled_tweet_ids"`
	Negotiations       map[string]Negotiation `json:"negotiations"`
	Jobs               []Job                  `json:"jobs"`
	Directory          map[string]string      `json:"directory"`
}

// Update is a single tagged mutation. A batch passed to Apply lands
// atomically, ordered by each variant's fixed precedence rather than by
// argument position.
type Update interface {
	rank() int
}

// MarkHandled appends a tweet id to the handled set. The set does not
// dedupe; callers must not apply the same id twice.
type MarkHandled struct {
	TweetID string
}

// SessionProgressed inserts or replaces a counterparty's negotiation,
// opening the entry on first contact.
type SessionProgressed struct {
	Negotiation Negotiation
}

// SessionEnded removes the counterparty's negotiation entry.
type SessionEnded struct {
	CounterpartyID string
}

// PaymentVerified materializes a Job from the negotiation carried in the
// update. The snapshot travels with the update so materialization does not
// depend on whether a SessionEnded in the same batch has already removed
// the live entry.
type PaymentVerified struct {
	Negotiation        Negotiation
	LastRepliedTweetID string
}

// MentionsFetched replaces the unresolved backlog with the fetched batch
// minus anything already handled. Stale entries not present in the new
// fetch are dropped.
type MentionsFetched struct {
	Tweets []twitter.Tweet
}

// DirectoryFetched replaces the counterparty directory wholesale.
type DirectoryFetched struct {
	Users map[string]string
}

func (MarkHandled) rank() int       { return 1 }
func (SessionProgressed) rank() int { return 2 }
func (SessionEnded) rank() int      { return 3 }
func (PaymentVerified) rank() int   { return 4 }
func (MentionsFetched) rank() int   { return 5 }
func (DirectoryFetched) rank() int  { return 6 }

// Store holds the agent state behind a mutex so Apply batches serialize.
type Store struct {
	mu   sync.Mutex
	snap Snapshot

	file   *SnapshotFile
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSnapshotFile enables snapshot persistence. The file is rewritten
// after every Apply; write failures are logged, not fatal.
func WithSnapshotFile(f *SnapshotFile) StoreOption {
	return func(s *Store) {
		s.file = f
	}
}

// WithStoreLogger sets a structured logger for the store.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// WithIDFunc overrides job id generation (for testing).
func WithIDFunc(fn func() string) StoreOption {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithClock overrides the time source (for testing).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = fn
	}
}

// NewStore creates an empty store and, when persistence is configured,
// writes the initial snapshot.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		snap: Snapshot{
			Negotiations: make(map[string]Negotiation),
			Directory:    make(map[string]string),
		},
		logger: slog.Default(),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.file != nil {
		if err := s.file.Write(s.snap); err != nil {
			s.logger.Warn("write initial snapshot", "path", s.file.Path(), "error", err)
		}
	}
	return s
}

// Read returns a deep copy of the last fully-applied snapshot.
func (s *Store) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Apply applies the batch under one mutex hold, sorted by update precedence:
// handled-id append, session upsert, session removal, job materialization,
// mention replacement, directory replacement. It persists the snapshot and
// returns a deep copy of the result.
func (s *Store) Apply(updates ...Update) Snapshot {
	ordered := make([]Update, len(updates))
	copy(ordered, updates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].rank() < ordered[j].rank()
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range ordered {
		s.applyOne(u)
	}

	if s.file != nil {
		if err := s.file.Write(s.snap); err != nil {
			s.logger.Warn("persist snapshot", "path", s.file.Path(), "error", err)
		}
	}
	return s.snap.clone()
}

func (s *Store) applyOne(u Update) {
	switch u := u.(type) {
	case MarkHandled:
		s.snap.HandledTweetIDs = append(s.snap.HandledTweetIDs, u.TweetID)

	case SessionProgressed:
		neg := u.Negotiation
		neg.Transcript = append([]string(nil), neg.Transcript...)
		neg.Memory.Services = append([]string(nil), neg.Memory.Services...)
		s.snap.Negotiations[neg.CounterpartyID] = neg

	case SessionEnded:
		delete(s.snap.Negotiations, u.CounterpartyID)

	case PaymentVerified:
		s.snap.Jobs = append(s.snap.Jobs, s.materialize(u.Negotiation, u.LastRepliedTweetID))

	case MentionsFetched:
		handled := make(map[string]bool, len(s.snap.HandledTweetIDs))
		for _, id := range s.snap.HandledTweetIDs {
			handled[id] = true
		}
		unresolved := make([]twitter.Tweet, 0, len(u.Tweets))
		for _, tweet := range u.Tweets {
			if !handled[tweet.ID] {
				unresolved = append(unresolved, tweet)
			}
		}
		s.snap.UnresolvedMentions = unresolved

	case DirectoryFetched:
		directory := make(map[string]string, len(u.Users))
		for id, name := range u.Users {
			directory[id] = name
		}
		s.snap.Directory = directory
	}
}

// materialize snapshots a negotiation's working memory as a Job. The
// transient payment fields do not exist on the Job type, so they are
// stripped by construction.
func (s *Store) materialize(neg Negotiation, lastRepliedTweetID string) Job {
	return Job{
		ID:                 s.newID(),
		Name:               neg.Memory.Name,
		Target:             neg.Memory.Target,
		Idea:               neg.Memory.Idea,
		Edge:               neg.Memory.Edge,
		References:         neg.Memory.References,
		Stage:              neg.Memory.Stage,
		Services:           append([]string(nil), neg.Memory.Services...),
		LastRepliedTweetID: lastRepliedTweetID,
		CounterpartyID:     neg.CounterpartyID,
		CounterpartyName:   neg.CounterpartyName,
		CreatedAt:          s.now().UTC(),
	}
}

func (snap Snapshot) clone() Snapshot {
	out := Snapshot{
		UnresolvedMentions: append([]twitter.Tweet(nil), snap.UnresolvedMentions...),
		HandledTweetIDs:    append([]string(nil), snap.HandledTweetIDs...),
		Negotiations:       make(map[string]Negotiation, len(snap.Negotiations)),
		Jobs:               make([]Job, 0, len(snap.Jobs)),
		Directory:          make(map[string]string, len(snap.Directory)),
	}
	for id, neg := range snap.Negotiations {
		neg.Transcript = append([]string(nil), neg.Transcript...)
		neg.Memory.Services = append([]string(nil), neg.Memory.Services...)
		out.Negotiations[id] = neg
	}
	for _, job := range snap.Jobs {
		job.Services = append([]string(nil), job.Services...)
		out.Jobs = append(out.Jobs, job)
	}
	for id, name := range snap.Directory {
		out.Directory[id] = name
	}
	return out
}
