//go:build integration

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/guardian-recovery/internal/infrastructure/config"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/database"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
	"github.com/davidleathers/guardian-recovery/internal/testutil/containers"
	"github.com/davidleathers/guardian-recovery/internal/testutil/fixtures"
	"github.com/davidleathers/guardian-recovery/internal/testutil/storetest"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	dsn := containers.StartPostgres(t)

	m, err := database.NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up(0))
	require.NoError(t, m.Close())

	pool, err := database.NewPool(ctx, config.PostgresConfig{
		URL:      dsn,
		MaxConns: 8,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		"TRUNCATE guardians, trust_relations, account_configs, recovery_requests")
	require.NoError(t, err)
}

func TestStoreContract(t *testing.T) {
	pool := setupPool(t)
	storetest.Run(t, func(t *testing.T) protocol.Store {
		truncate(t, pool)
		return NewStore(pool, 3, zaptest.NewLogger(t))
	})
}

// Queued writers must read the state committed by the writer before them;
// with no retries a stale read would surface as a lost update or an error.
func TestStore_WritersAreSerialized(t *testing.T) {
	pool := setupPool(t)
	s := NewStore(pool, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx protocol.Tx) error {
		return tx.SaveGuardian(ctx, fixtures.NewGuardianBuilder("alice").WithEndorsements(0).Build())
	}))

	const writers = 8
	var (
		wg    sync.WaitGroup
		calls [writers]atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context, tx protocol.Tx) error {
				calls[i].Add(1)
				g, err := tx.GetGuardian(ctx, "alice")
				if err != nil {
					return err
				}
				g.TotalEndorsements++
				return tx.SaveGuardian(ctx, g)
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := range calls {
		assert.Equal(t, int32(1), calls[i].Load(), "writer %d", i)
	}

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx protocol.Tx) error {
		g, err := tx.GetGuardian(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, writers, g.TotalEndorsements)
		return nil
	}))
}

func TestStore_Ping(t *testing.T) {
	pool := setupPool(t)
	assert.NoError(t, NewStore(pool, 0, nil).Ping(context.Background()))
}
