package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jarvis/internal/crypto"
	"jarvis/internal/metrics"
	"jarvis/internal/providers"
	"jarvis/internal/storage"
)

var ErrEmptySecret = errors.New("secret is empty")

// DefaultRefreshAfter bounds how long a lookup trusts the snapshot before
// re-reading the backend, so keys written by another process show up.
const DefaultRefreshAfter = 2 * time.Second

const refreshTimeout = 2 * time.Second

// Credential is the secret configured for one provider.
type Credential struct {
	Provider providers.Name
	Secret   string
}

// Auditor records credential changes. storage.Store satisfies it.
type Auditor interface {
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	Backend Backend
	Sealer  *crypto.Sealer
	Auditor Auditor
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// Actor is recorded on audit entries, e.g. "cli" or "http".
	Actor string
	// RefreshAfter is the snapshot age that makes Secret and Has re-read the
	// backend. Zero means DefaultRefreshAfter; negative disables re-reads.
	RefreshAfter time.Duration
}

// Store persists provider credentials and serves lookups from an in-memory
// snapshot. Every Load, Save, Set and Delete refreshes it, and lookups re-read
// the backend once it is older than RefreshAfter.
type Store struct {
	backend      Backend
	sealer       *crypto.Sealer
	auditor      Auditor
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	actor        string
	refreshAfter time.Duration

	writeMu  sync.Mutex
	mu       sync.RWMutex
	snapshot map[providers.Name]Credential
	loadedAt time.Time
}

func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Actor == "" {
		cfg.Actor = "system"
	}
	if cfg.RefreshAfter == 0 {
		cfg.RefreshAfter = DefaultRefreshAfter
	}
	return &Store{
		backend:  cfg.Backend,
		sealer:   cfg.Sealer,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger.With().Str("component", "credentials").Logger(),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		actor:    cfg.Actor,
		snapshot: map[providers.Name]Credential{},

		refreshAfter: cfg.RefreshAfter,
	}
}

var _ providers.Credentials = (*Store)(nil)

// Load reads the backend and replaces the snapshot. It never fails: an
// unreadable or malformed document is logged and treated as empty.
func (s *Store) Load(ctx context.Context) map[providers.Name]Credential {
	doc, err := s.readDocument(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential document unavailable, treating as empty")
		doc = Document{}
	}
	s.applyDocument(doc)
	return s.Snapshot()
}

// Save replaces every known provider entry with creds. Entries for names this
// build does not recognise are carried over untouched.
func (s *Store) Save(ctx context.Context, creds map[providers.Name]Credential) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc := s.readForUpdate(ctx)
	for _, name := range providers.Priority {
		delete(doc, string(name))
	}
	for name, c := range creds {
		if !name.Valid() || strings.TrimSpace(c.Secret) == "" {
			continue
		}
		entry, err := s.entryFor(c.Secret)
		if err != nil {
			return err
		}
		doc[string(name)] = entry
	}
	if err := s.writeDocument(ctx, doc); err != nil {
		return err
	}
	s.applyDocument(doc)
	return nil
}

// Set creates or overwrites the credential for name.
func (s *Store) Set(ctx context.Context, name providers.Name, secret string) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", providers.ErrUnknownProvider, name)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ErrEmptySecret
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entry, err := s.entryFor(secret)
	if err != nil {
		return err
	}
	doc := s.readForUpdate(ctx)
	doc[string(name)] = entry
	if err := s.writeDocument(ctx, doc); err != nil {
		return err
	}
	s.applyDocument(doc)
	s.record(ctx, name, "set")
	return nil
}

// Delete revokes the credential for name. Deleting an absent credential is
// not an error.
func (s *Store) Delete(ctx context.Context, name providers.Name) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", providers.ErrUnknownProvider, name)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc := s.readForUpdate(ctx)
	if _, ok := doc[string(name)]; !ok {
		s.applyDocument(doc)
		return nil
	}
	delete(doc, string(name))
	if err := s.writeDocument(ctx, doc); err != nil {
		return err
	}
	s.applyDocument(doc)
	s.record(ctx, name, "delete")
	return nil
}

// Rotate reseals entries sealed with a non-current master key and returns how
// many were rewritten.
func (s *Store) Rotate(ctx context.Context) (int, error) {
	if !s.sealer.Enabled() {
		return 0, crypto.ErrNoKeys
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.readDocument(ctx)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for name, e := range doc {
		if e.Sealed && !s.sealer.NeedsRotation(e.Key) {
			continue
		}
		plain := e.Key
		if e.Sealed {
			plain, err = s.sealer.Open(e.Key)
			if err != nil {
				return rotated, fmt.Errorf("open %s credential: %w", name, err)
			}
		}
		next, err := s.entryFor(plain)
		if err != nil {
			return rotated, err
		}
		doc[name] = next
		rotated++
	}
	if rotated == 0 {
		return 0, nil
	}
	if err := s.writeDocument(ctx, doc); err != nil {
		return 0, err
	}
	s.applyDocument(doc)
	return rotated, nil
}

// Secret implements providers.Credentials from the snapshot.
func (s *Store) Secret(name providers.Name) (string, bool) {
	s.refreshIfStale()
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.snapshot[name]
	if !ok || c.Secret == "" {
		return "", false
	}
	return c.Secret, true
}

func (s *Store) Has(name providers.Name) bool {
	_, ok := s.Secret(name)
	return ok
}

func (s *Store) Snapshot() map[providers.Name]Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[providers.Name]Credential, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

// refreshIfStale re-reads the backend when the snapshot has aged out. A failed
// read keeps the previous snapshot; a running write is left to refresh it.
func (s *Store) refreshIfStale() {
	if s.refreshAfter < 0 || s.backend == nil {
		return
	}
	s.mu.RLock()
	fresh := !s.loadedAt.IsZero() && s.now().Sub(s.loadedAt) < s.refreshAfter
	s.mu.RUnlock()
	if fresh {
		return
	}
	if !s.writeMu.TryLock() {
		return
	}
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	doc, err := s.readDocument(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential refresh failed, keeping previous snapshot")
		s.mu.Lock()
		s.loadedAt = s.now()
		s.mu.Unlock()
		return
	}
	s.applyDocument(doc)
}

func (s *Store) readDocument(ctx context.Context) (Document, error) {
	if s.backend == nil {
		return Document{}, nil
	}
	raw, err := s.backend.Read(ctx)
	if err != nil {
		return nil, err
	}
	return decodeDocument(raw, s.backend.Format())
}

// readForUpdate starts a read-modify-write. A corrupt document is replaced
// rather than blocking every later configuration.
func (s *Store) readForUpdate(ctx context.Context) Document {
	doc, err := s.readDocument(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential document unreadable, rewriting from scratch")
		return Document{}
	}
	return doc
}

func (s *Store) writeDocument(ctx context.Context, doc Document) error {
	if s.backend == nil {
		return nil
	}
	raw, err := encodeDocument(doc, s.backend.Format())
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, raw); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

func (s *Store) entryFor(secret string) (Entry, error) {
	ts := s.now().UTC()
	if !s.sealer.Enabled() {
		return Entry{Key: secret, UpdatedAt: &ts}, nil
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return Entry{}, fmt.Errorf("seal credential: %w", err)
	}
	return Entry{Key: sealed, Sealed: true, UpdatedAt: &ts}, nil
}

func (s *Store) applyDocument(doc Document) {
	next := make(map[providers.Name]Credential, len(providers.Priority))
	for _, name := range providers.Priority {
		e, ok := doc[string(name)]
		if !ok {
			continue
		}
		secret := e.Key
		if e.Sealed {
			plain, err := s.sealer.Open(e.Key)
			if err != nil {
				s.logger.Warn().Err(err).Str("provider", string(name)).Msg("cannot open sealed credential, skipping")
				continue
			}
			secret = plain
		}
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		next[name] = Credential{Provider: name, Secret: secret}
	}

	s.mu.Lock()
	s.snapshot = next
	s.loadedAt = s.now()
	s.mu.Unlock()
}

func (s *Store) record(ctx context.Context, name providers.Name, action string) {
	s.logger.Info().Str("provider", string(name)).Str("action", action).Msg("credential changed")
	if s.metrics != nil {
		s.metrics.CredentialChanges.WithLabelValues(string(name), action).Inc()
	}
	if s.auditor == nil {
		return
	}
	if err := s.auditor.LogAction(ctx, storage.AuditEntry{
		Actor:    s.actor,
		Action:   "credential." + action,
		Provider: string(name),
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write audit entry")
	}
}
