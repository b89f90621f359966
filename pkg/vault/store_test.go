package vault

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows() []Row {
	return []Row{
		{"id": float64(1), "name": "alpha"},
		{"id": float64(2), "name": "beta"},
		{"id": float64(3), "name": "gamma"},
	}
}

func newTestStore(t *testing.T, opts Options) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	return New(backend, opts, nil), backend
}

func TestPutAndGet(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	ctx := context.Background()

	handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "sess-1", "search_tool", nil, nil, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(handleID, "vault-"))
	require.NotNil(t, metadata)
	assert.Equal(t, handleID, metadata.HandleID)
	assert.NotEmpty(t, metadata.FetchToken)
	assert.Equal(t, "search_tool", metadata.SourceTool)
	assert.Equal(t, 3, metadata.RowCount)
	assert.Contains(t, metadata.Note, handleID)

	rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
	require.NoError(t, err)
	assert.Equal(t, testRows(), rows)
}

func TestPut_EmptyRows(t *testing.T) {
	store, _ := newTestStore(t, Options{})

	_, _, err := store.Put(context.Background(), nil, "did:user:1", "s", "tool", nil, nil, nil)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestPut_MintsDistinctHandles(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	ctx := context.Background()

	first, firstMeta, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)
	second, secondMeta, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, firstMeta.FetchToken, secondMeta.FetchToken)
}

func TestGet_NotFoundCasesCollapse(t *testing.T) {
	store, backend := newTestStore(t, Options{})
	ctx := context.Background()

	handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		handle    string
		principal string
		token     string
	}{
		{name: "unknown handle", handle: "vault-nope", principal: "did:user:1", token: metadata.FetchToken},
		{name: "wrong owner", handle: handleID, principal: "did:user:2", token: metadata.FetchToken},
		{name: "wrong token", handle: handleID, principal: "did:user:1", token: "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := store.Get(ctx, tt.handle, tt.principal, tt.token)
			assert.NoError(t, err)
			assert.Nil(t, rows)
		})
	}

	t.Run("deleted handle", func(t *testing.T) {
		backend.Delete(KeyPrefix + handleID)
		rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
		assert.NoError(t, err)
		assert.Nil(t, rows)
	})
}

func TestGet_FirstReadShrinksTTL(t *testing.T) {
	store, backend := newTestStore(t, Options{TTL: 1800 * time.Second, GracePeriod: 300 * time.Second})
	ctx := context.Background()

	now := time.Now()
	backend.SetClock(func() time.Time { return now })

	handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)

	remaining, ok, err := backend.TTL(ctx, KeyPrefix+handleID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1800*time.Second, remaining)

	rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
	require.NoError(t, err)
	require.NotNil(t, rows)

	remaining, ok, err = backend.TTL(ctx, KeyPrefix+handleID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 300*time.Second, remaining)
}

func TestGet_InsideGraceWindowDoesNotExtend(t *testing.T) {
	store, backend := newTestStore(t, Options{TTL: 1800 * time.Second, GracePeriod: 300 * time.Second})
	ctx := context.Background()

	now := time.Now()
	backend.SetClock(func() time.Time { return now })

	handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)

	_, err = store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
	require.NoError(t, err)

	// 100 seconds into the grace window a second read must not reset it.
	now = now.Add(100 * time.Second)
	rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
	require.NoError(t, err)
	require.NotNil(t, rows)

	remaining, ok, err := backend.TTL(ctx, KeyPrefix+handleID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200*time.Second, remaining)
}

func TestGet_ExpiredAfterGrace(t *testing.T) {
	store, backend := newTestStore(t, Options{TTL: 1800 * time.Second, GracePeriod: 300 * time.Second})
	ctx := context.Background()

	now := time.Now()
	backend.SetClock(func() time.Time { return now })

	handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)

	_, err = store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
	require.NoError(t, err)

	now = now.Add(301 * time.Second)
	rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
	assert.NoError(t, err)
	assert.Nil(t, rows)
}

// flakyBackend fails compare-and-expire a fixed number of times before
// delegating, simulating a concurrent mutation between observe and expire.
type flakyBackend struct {
	*MemoryBackend
	failures int
}

func (b *flakyBackend) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	if b.failures > 0 {
		b.failures--
		return false, nil
	}
	return b.MemoryBackend.CompareAndExpire(ctx, key, expected, ttl)
}

func TestGet_ShrinkConflictRetriesOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("one conflict succeeds on retry", func(t *testing.T) {
		backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 1}
		store := New(backend, Options{}, nil)

		handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
		require.NoError(t, err)

		rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
		require.NoError(t, err)
		assert.Equal(t, testRows(), rows)
	})

	t.Run("two conflicts is not found", func(t *testing.T) {
		backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 2}
		store := New(backend, Options{}, nil)

		handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
		require.NoError(t, err)

		rows, err := store.Get(ctx, handleID, "did:user:1", metadata.FetchToken)
		assert.NoError(t, err)
		assert.Nil(t, rows)
	})
}

func TestGetWithMetadata(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	ctx := context.Background()

	provenance := &DataSource{ToolName: "search_tool", UserQuery: "find things"}
	handleID, put, err := store.Put(ctx, testRows(), "did:user:1", "s", "search_tool", provenance, nil, nil)
	require.NoError(t, err)

	rows, metadata, err := store.GetWithMetadata(ctx, handleID, "did:user:1", put.FetchToken)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	require.NotNil(t, metadata)
	require.NotNil(t, metadata.DataSource)
	assert.Equal(t, "search_tool", metadata.DataSource.ToolName)
}

func TestValidateToken(t *testing.T) {
	store, backend := newTestStore(t, Options{TTL: 1800 * time.Second})
	ctx := context.Background()

	now := time.Now()
	backend.SetClock(func() time.Time { return now })

	handleID, metadata, err := store.Put(ctx, testRows(), "did:user:1", "s", "tool", nil, nil, nil)
	require.NoError(t, err)

	ok, err := store.ValidateToken(ctx, handleID, metadata.FetchToken)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ValidateToken(ctx, handleID, "bogus")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ValidateToken(ctx, "vault-nope", metadata.FetchToken)
	require.NoError(t, err)
	assert.False(t, ok)

	// Validation must not shrink the TTL.
	remaining, hasTTL, err := backend.TTL(ctx, KeyPrefix+handleID)
	require.NoError(t, err)
	require.True(t, hasTTL)
	assert.Equal(t, 1800*time.Second, remaining)
}

func TestShouldOffload(t *testing.T) {
	store, _ := newTestStore(t, Options{MaxInlineRows: 3, MaxInlineBytes: 200, MaxInlineTokens: 40})

	manyRows := make([]any, 4)
	for i := range manyRows {
		manyRows[i] = map[string]any{"i": i}
	}

	bigString := strings.Repeat("x", 300)

	tests := []struct {
		name string
		data any
		want bool
	}{
		{name: "row count above limit", data: manyRows, want: true},
		{name: "row count at limit", data: manyRows[:3], want: false},
		{name: "bytes above limit", data: []any{bigString}, want: true},
		{name: "token estimate above limit", data: []any{strings.Repeat("y", 170)}, want: true},
		{name: "small array", data: []any{"a"}, want: false},
		{name: "not an array", data: map[string]any{"k": "v"}, want: false},
		{name: "scalar", data: "just a string", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.ShouldOffload(tt.data))
		})
	}
}

func TestSafePrincipal(t *testing.T) {
	assert.Equal(t, "short", SafePrincipal("short"))
	assert.Equal(t, "...ghijklmn", SafePrincipal("did:plc:abcdefghijklmn"))
}
