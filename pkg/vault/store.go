package vault

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Options configures a Store. Zero values fall back to the defaults
// (30 minute TTL, 5 minute grace, 100 rows / 50 KiB / 10k token limits).
type Options struct {
	TTL             time.Duration
	GracePeriod     time.Duration
	MaxInlineRows   int
	MaxInlineBytes  int
	MaxInlineTokens int
}

func (o *Options) setDefaults() {
	if o.TTL == 0 {
		o.TTL = 1800 * time.Second
	}
	if o.GracePeriod == 0 {
		o.GracePeriod = 300 * time.Second
	}
	if o.MaxInlineRows == 0 {
		o.MaxInlineRows = 100
	}
	if o.MaxInlineBytes == 0 {
		o.MaxInlineBytes = 51200
	}
	if o.MaxInlineTokens == 0 {
		o.MaxInlineTokens = 10000
	}
}

// Store is the vault: a TTL-keyed, ownership-and-token-authenticated store
// of typed tabular blobs.
type Store struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

// New creates a Store over the given backend.
func New(backend Backend, opts Options, logger *slog.Logger) *Store {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, opts: opts, logger: logger}
}

// Put stores a row array and returns the minted handle with its metadata
// envelope. columnOrder is the source's first-row key order when the caller
// captured it (see pathops.FirstRowKeys); nil falls back to alphabetical.
// Each call mints a fresh handle; entries are never updated.
func (s *Store) Put(ctx context.Context, data []Row, ownerID, sessionID, sourceTool string, provenance *DataSource, semantics *Semantics, columnOrder []string) (string, *MetadataEnvelope, error) {
	if len(data) == 0 {
		return "", nil, &ValidationError{Message: "vault put requires a non-empty row array"}
	}

	handleID := "vault-" + uuid.NewString()
	token := uuid.NewString()

	metadata := ExtractMetadata(data, columnOrder)
	metadata.HandleID = handleID
	metadata.FetchToken = token
	metadata.SourceTool = sourceTool
	metadata.DataSource = provenance
	metadata.Semantics = semantics
	metadata.Note = OffloadNote(len(data), handleID, token)

	entry := &Entry{
		FullData:    data,
		OwnerID:     ownerID,
		SessionID:   sessionID,
		CreatedAt:   time.Now().UTC(),
		AccessToken: token,
		Metadata:    metadata,
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return "", nil, &ValidationError{Message: "vault entry is not JSON-serializable: " + err.Error()}
	}

	if err := s.backend.Set(ctx, KeyPrefix+handleID, raw, s.opts.TTL); err != nil {
		return "", nil, err
	}

	s.logger.Info("vault entry stored",
		"handle", handleID,
		"rows", len(data),
		"bytes", len(raw),
		"owner", SafePrincipal(ownerID),
		"tool", sourceTool)

	return handleID, metadata, nil
}

// Get returns the stored rows iff ownership and token match and the entry
// is live. The first successful read atomically shrinks the remaining TTL
// to the grace period. A missing entry, wrong owner, or wrong token all
// yield (nil, nil); the cases are indistinguishable to the caller.
func (s *Store) Get(ctx context.Context, handleID, principal, token string) ([]Row, error) {
	entry, err := s.fetchAndShrink(ctx, handleID, principal, token)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.FullData, nil
}

// GetWithMetadata is Get plus the cached metadata envelope.
func (s *Store) GetWithMetadata(ctx context.Context, handleID, principal, token string) ([]Row, *MetadataEnvelope, error) {
	entry, err := s.fetchAndShrink(ctx, handleID, principal, token)
	if err != nil || entry == nil {
		return nil, nil, err
	}
	return entry.FullData, entry.Metadata, nil
}

// ValidateToken checks a handle/token pair without touching the TTL.
func (s *Store) ValidateToken(ctx context.Context, handleID, token string) (bool, error) {
	raw, err := s.backend.Get(ctx, KeyPrefix+handleID)
	if err != nil || raw == nil {
		return false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false, nil
	}
	return tokenMatches(entry.AccessToken, token), nil
}

// ShouldOffload reports whether data is a row array large enough to move
// out of the LLM context: more rows than MaxInlineRows, more serialized
// bytes than MaxInlineBytes, or an estimated token count (bytes/4) above
// MaxInlineTokens.
func (s *Store) ShouldOffload(data any) bool {
	var length int
	switch v := data.(type) {
	case []any:
		length = len(v)
	case []Row:
		length = len(v)
	default:
		return false
	}

	if length > s.opts.MaxInlineRows {
		return true
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return len(raw) > s.opts.MaxInlineBytes || len(raw)/4 > s.opts.MaxInlineTokens
}

// GracePeriod returns the configured post-first-read lifetime.
func (s *Store) GracePeriod() time.Duration {
	return s.opts.GracePeriod
}

// fetchAndShrink is the atomic read path: observe the entry, verify owner
// and token, then compare-and-expire the TTL down to the grace period. A
// concurrent mutation between observe and expire fails the compare; the
// sequence is retried exactly once, after which the entry is treated as
// not found.
func (s *Store) fetchAndShrink(ctx context.Context, handleID, principal, token string) (*Entry, error) {
	key := KeyPrefix + handleID

	for attempt := 0; attempt < 2; attempt++ {
		raw, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, nil
		}

		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.logger.Warn("vault entry is corrupt", "handle", handleID)
			return nil, nil
		}

		if entry.OwnerID != principal || !tokenMatches(entry.AccessToken, token) {
			s.logger.Debug("vault access denied",
				"handle", handleID, "principal", SafePrincipal(principal))
			return nil, nil
		}

		remaining, hasTTL, err := s.backend.TTL(ctx, key)
		if err != nil {
			return nil, err
		}
		if hasTTL && remaining <= s.opts.GracePeriod {
			// Already inside the grace window; nothing to shrink.
			return &entry, nil
		}

		ok, err := s.backend.CompareAndExpire(ctx, key, raw, s.opts.GracePeriod)
		if err != nil {
			return nil, err
		}
		if ok {
			return &entry, nil
		}
		// The entry changed underneath us; re-observe once.
	}

	s.logger.Debug("vault TTL shrink lost twice, treating as not found", "handle", handleID)
	return nil, nil
}

func tokenMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// SafePrincipal truncates an identity for logging: only the last 8
// characters are emitted.
func SafePrincipal(principal string) string {
	if len(principal) <= 8 {
		return principal
	}
	return "..." + principal[len(principal)-8:]
}
