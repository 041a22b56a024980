package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/routing"
)

// memShardStore is an in-memory ShardConfigRepository for reloader tests.
type memShardStore struct {
	records []*entities.ShardConfigRecord
}

func (s *memShardStore) Latest(ctx context.Context) (*entities.ShardConfigRecord, error) {
	if len(s.records) == 0 {
		return nil, domainerrors.ErrNotFound
	}
	return s.records[len(s.records)-1], nil
}

func (s *memShardStore) Append(ctx context.Context, document, createdBy string) (*entities.ShardConfigRecord, error) {
	r := &entities.ShardConfigRecord{
		ID:        int64(len(s.records) + 1),
		Document:  document,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	s.records = append(s.records, r)
	return r, nil
}

func TestReloaderInstallsLatestConfig(t *testing.T) {
	store := &memShardStore{}
	holder := routing.NewHolder()
	r := NewConfigReloader(store, holder, time.Second)
	ctx := context.Background()

	// Nothing stored: stay failsafe without error.
	require.NoError(t, r.LoadOnce(ctx))
	assert.Nil(t, holder.Load())

	_, err := store.Append(ctx, `{"version":1,"shards":[{"id":1,"url":"http://all"}]}`, "test")
	require.NoError(t, err)
	require.NoError(t, r.LoadOnce(ctx))

	table := holder.Load()
	require.NotNil(t, table)
	url, err := table.RouteByShardID(1)
	require.NoError(t, err)
	assert.Equal(t, "http://all", url)
}

func TestReloaderKeepsOldTableOnInvalidConfig(t *testing.T) {
	store := &memShardStore{}
	holder := routing.NewHolder()
	r := NewConfigReloader(store, holder, time.Second)
	ctx := context.Background()

	_, err := store.Append(ctx, `{"version":1,"shards":[{"id":1,"url":"http://all"}]}`, "test")
	require.NoError(t, err)
	require.NoError(t, r.LoadOnce(ctx))
	old := holder.Load()
	require.NotNil(t, old)

	// Incomplete partition: only half the request-id space is covered.
	_, err = store.Append(ctx, `{"version":2,"shards":[{"id":2,"url":"http://half"}]}`, "test")
	require.NoError(t, err)
	assert.Error(t, r.LoadOnce(ctx))
	assert.Same(t, old, holder.Load(), "invalid config must not replace a working table")
}

func TestReloaderSkipsUnchangedRecord(t *testing.T) {
	store := &memShardStore{}
	holder := routing.NewHolder()
	r := NewConfigReloader(store, holder, time.Second)
	ctx := context.Background()

	_, err := store.Append(ctx, `{"version":1,"shards":[{"id":1,"url":"http://all"}]}`, "test")
	require.NoError(t, err)
	require.NoError(t, r.LoadOnce(ctx))
	first := holder.Load()

	require.NoError(t, r.LoadOnce(ctx))
	assert.Same(t, first, holder.Load(), "same record id must not rebuild the table")
}
