// Package storetest checks that a protocol.Store keeps the repository
// contract. Every store implementation runs the same suite.
package storetest

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
	"github.com/davidleathers/guardian-recovery/internal/testutil"
	"github.com/davidleathers/guardian-recovery/internal/testutil/fixtures"
)

// Factory returns an empty store
type Factory func(t *testing.T) protocol.Store

// Run executes the whole suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("guardians", func(t *testing.T) { testGuardians(t, newStore(t)) })
	t.Run("trust", func(t *testing.T) { testTrust(t, newStore(t)) })
	t.Run("account configs", func(t *testing.T) { testAccountConfigs(t, newStore(t)) })
	t.Run("recoveries", func(t *testing.T) { testRecoveries(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("cancelled context", func(t *testing.T) { testCancelledContext(t, newStore(t)) })
}

func write(t *testing.T, s protocol.Store, fn func(ctx context.Context, tx protocol.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithinTx(testutil.TestContext(t), fn))
}

func read(t *testing.T, s protocol.Store, fn func(ctx context.Context, tx protocol.Tx) error) {
	t.Helper()
	require.NoError(t, s.View(testutil.TestContext(t), fn))
}

func testGuardians(t *testing.T, s protocol.Store) {
	alice := fixtures.NewGuardianBuilder("alice").WithReputation(150).WithStake(250).WithRecoveries(2, 1).WithEndorsements(3).Build()
	bob := fixtures.NewGuardianBuilder("bob").Inactive().Build()

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		_, err := tx.GetGuardian(ctx, "alice")
		assert.True(t, errors.Is(err, errors.ErrUnknownGuardian))
		return nil
	})

	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		require.NoError(t, tx.SaveGuardian(ctx, alice))
		return tx.SaveGuardian(ctx, bob)
	})

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		got, err := tx.GetGuardian(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice, got)

		var seen []values.Address
		require.NoError(t, tx.ScanGuardians(ctx, func(g *guardian.Guardian) bool {
			seen = append(seen, g.Address)
			return true
		}))
		assert.ElementsMatch(t, []values.Address{"alice", "bob"}, seen)

		calls := 0
		require.NoError(t, tx.ScanGuardians(ctx, func(*guardian.Guardian) bool {
			calls++
			return false
		}))
		assert.Equal(t, 1, calls)
		return nil
	})

	// overwrite
	alice.StakedAmount = 90
	alice.IsActive = false
	alice.LastActivityTime = testutil.Epoch.Add(time.Hour)
	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		return tx.SaveGuardian(ctx, alice)
	})
	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		got, err := tx.GetGuardian(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice, got)
		return nil
	})
}

func testTrust(t *testing.T, s protocol.Store) {
	edge := fixtures.Trust("vault-1", "alice", 80)

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		_, err := tx.GetTrust(ctx, "vault-1", "alice")
		assert.True(t, errors.Is(err, errors.ErrTrustNotFound))
		return nil
	})

	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		return tx.SaveTrust(ctx, edge)
	})

	edge.TrustLevel = 30
	edge.LastInteraction = testutil.Epoch.Add(time.Minute)
	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		return tx.SaveTrust(ctx, edge)
	})

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		got, err := tx.GetTrust(ctx, "vault-1", "alice")
		require.NoError(t, err)
		assert.Equal(t, edge, got)

		// edges are directed
		_, err = tx.GetTrust(ctx, "alice", "vault-1")
		assert.True(t, errors.Is(err, errors.ErrTrustNotFound))
		return nil
	})
}

func testAccountConfigs(t *testing.T, s protocol.Store) {
	cfg := fixtures.AccountConfig("vault-1", "alice", "bob")
	cfg.RecoveryThreshold = 2
	cfg.MinGuardianReputation = 120

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		_, err := tx.GetAccountConfig(ctx, "vault-1")
		assert.True(t, errors.Is(err, errors.ErrConfigNotFound))
		return nil
	})

	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		require.NoError(t, tx.SaveAccountConfig(ctx, cfg))
		return tx.SaveAccountConfig(ctx, fixtures.AccountConfig("vault-2"))
	})

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		got, err := tx.GetAccountConfig(ctx, "vault-1")
		require.NoError(t, err)
		assert.Equal(t, cfg, got)

		empty, err := tx.GetAccountConfig(ctx, "vault-2")
		require.NoError(t, err)
		assert.NotNil(t, empty.TrustedGuardians)
		assert.Empty(t, empty.TrustedGuardians)
		return nil
	})
}

func assertSameRecovery(t *testing.T, want, got *recovery.Request) {
	t.Helper()
	assert.True(t, want.CurrentConfirmations.Equal(got.CurrentConfirmations),
		"confirmations %s != %s", want.CurrentConfirmations, got.CurrentConfirmations)
	require.Len(t, got.Confirmations, len(want.Confirmations))
	for i := range want.Confirmations {
		assert.Equal(t, want.Confirmations[i].Guardian, got.Confirmations[i].Guardian)
		assert.True(t, want.Confirmations[i].Weight.Equal(got.Confirmations[i].Weight))
		assert.True(t, want.Confirmations[i].ConfirmedAt.Equal(got.Confirmations[i].ConfirmedAt))
	}

	w, g := *want, *got
	w.CurrentConfirmations, g.CurrentConfirmations = values.ZeroWeight, values.ZeroWeight
	w.Confirmations, g.Confirmations = nil, nil
	assert.Equal(t, w, g)
}

func testRecoveries(t *testing.T, s protocol.Store) {
	first := fixtures.NewRecoveryBuilder("rec-1", "vault-1").WithInitiator("alice").WithFee(101).Build()
	second := fixtures.NewRecoveryBuilder("rec-2", "vault-1").InitiatedAt(testutil.Epoch.Add(time.Hour)).Emergency().Build()
	other := fixtures.NewRecoveryBuilder("rec-3", "vault-2").Build()

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		_, err := tx.GetRecovery(ctx, "rec-1")
		assert.True(t, errors.Is(err, errors.ErrRecoveryNotFound))
		return nil
	})

	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		for _, r := range []*recovery.Request{first, second, other} {
			if err := tx.SaveRecovery(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	// confirm and close the first request
	require.True(t, first.AddConfirmation("bob", values.MustNewWeightFromString("1.515"), testutil.Epoch.Add(time.Minute)))
	require.True(t, first.MarkExecuted(testutil.Epoch.Add(2*time.Minute)))
	write(t, s, func(ctx context.Context, tx protocol.Tx) error {
		return tx.SaveRecovery(ctx, first)
	})

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		got, err := tx.GetRecovery(ctx, "rec-1")
		require.NoError(t, err)
		assertSameRecovery(t, first, got)
		assert.Equal(t, recovery.StatusExecuted, got.Status)
		require.NotNil(t, got.ClosedAt)

		var ids []string
		require.NoError(t, tx.ScanAccountRecoveries(ctx, "vault-1", func(r *recovery.Request) bool {
			ids = append(ids, r.ID)
			return true
		}))
		assert.ElementsMatch(t, []string{"rec-1", "rec-2"}, ids)

		calls := 0
		require.NoError(t, tx.ScanAccountRecoveries(ctx, "vault-1", func(*recovery.Request) bool {
			calls++
			return false
		}))
		assert.Equal(t, 1, calls)

		require.NoError(t, tx.ScanAccountRecoveries(ctx, "nobody", func(*recovery.Request) bool {
			t.Error("unexpected recovery")
			return true
		}))
		return nil
	})
}

func testRollback(t *testing.T, s protocol.Store) {
	boom := stderrors.New("boom")
	err := s.WithinTx(testutil.TestContext(t), func(ctx context.Context, tx protocol.Tx) error {
		require.NoError(t, tx.SaveGuardian(ctx, fixtures.NewGuardianBuilder("alice").Build()))
		require.NoError(t, tx.SaveTrust(ctx, fixtures.Trust("vault-1", "alice", 90)))
		// writes are visible inside the transaction
		_, err := tx.GetGuardian(ctx, "alice")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	read(t, s, func(ctx context.Context, tx protocol.Tx) error {
		_, err := tx.GetGuardian(ctx, "alice")
		assert.True(t, errors.Is(err, errors.ErrUnknownGuardian))
		_, err = tx.GetTrust(ctx, "vault-1", "alice")
		assert.True(t, errors.Is(err, errors.ErrTrustNotFound))
		return nil
	})
}

func testCancelledContext(t *testing.T, s protocol.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, protocol.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = s.View(ctx, func(context.Context, protocol.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
