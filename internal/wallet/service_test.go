package wallet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain/chaintest"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
	"github.com/pezkuwi/pezkuwi_wallet/internal/logging"
	"github.com/pezkuwi/pezkuwi_wallet/internal/metrics"
	"github.com/pezkuwi/pezkuwi_wallet/internal/notification"
	"github.com/pezkuwi/pezkuwi_wallet/internal/securestore"
)

const bob = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"

type fixture struct {
	svc     *Service
	chain   *chaintest.Fake
	journal ledger.Ledger
	notes   *notification.Recorder
	metrics *metrics.Metrics
	keys    *keys.Manager
	address string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		chain:   chaintest.New(),
		journal: ledger.NewInMemory(),
		notes:   &notification.Recorder{},
		metrics: metrics.New(),
		keys:    keys.NewManager(securestore.NewMemoryStore(), keys.DefaultSS58Prefix, logging.Discard()),
	}
	f.svc = NewService(f.keys, f.chain, f.journal, f.notes, f.metrics, logging.Discard(), Config{
		SS58Prefix:   keys.DefaultSS58Prefix,
		PollInterval: 5 * time.Millisecond,
	})
	addr, err := f.svc.CreateOrImportWallet(ctx, "")
	require.NoError(t, err)
	f.address = addr
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.svc.Close(closeCtx)
	})
	return f
}

// primed seeds balances and takes the snapshot Send relies on.
func (f *fixture) primed(t *testing.T, native, governance uint64) {
	t.Helper()
	f.chain.SetBalances(f.address, native, governance, 0)
	_, err := f.svc.GetBalance(context.Background(), "")
	require.NoError(t, err)
	f.chain.ResetCalls()
}

func (f *fixture) eventuallyStatus(t *testing.T, id string, want ledger.Status) ledger.Transaction {
	t.Helper()
	var got ledger.Transaction
	require.Eventually(t, func() bool {
		tx, err := f.journal.Get(context.Background(), id)
		got = tx
		return err == nil && tx.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestCreateKeepsExistingWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrImportWallet(context.Background(), "")
	require.ErrorIs(t, err, keys.ErrWalletExists)

	current, err := f.svc.Address()
	require.NoError(t, err)
	assert.Equal(t, f.address, current)
}

func TestReplaceWithoutMnemonicYieldsDistinctAddresses(t *testing.T) {
	f := newFixture(t)
	second, err := f.svc.ReplaceWallet(context.Background(), "")
	require.NoError(t, err)
	assert.NotEqual(t, f.address, second)
	require.NoError(t, keys.ValidateAddress(second, keys.DefaultSS58Prefix))

	current, err := f.svc.Address()
	require.NoError(t, err)
	assert.Equal(t, second, current)
}

func TestLoadAndDeleteWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loaded, err := f.svc.LoadWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.address, loaded)

	require.NoError(t, f.svc.DeleteWallet(ctx))
	_, err = f.svc.Address()
	assert.ErrorIs(t, err, keys.ErrNoWalletFound)
	_, err = f.svc.LoadWallet(ctx)
	assert.ErrorIs(t, err, keys.ErrNoWalletFound)
	has, err := f.svc.HasWallet(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestGetBalanceReadsAllLedgers(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalances(f.address, 1_500_000_000_000, 2_000_000_000_000, 250_000_000_000)

	bal, err := f.svc.GetBalance(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, bal.IsDegraded())
	assert.Equal(t, "1500000000000", bal.Native.String())
	assert.Equal(t, "2000000000000", bal.Governance.String())
	assert.Equal(t, "250000000000", bal.Staked.String())

	display := f.svc.FormatBalance(bal)
	assert.Equal(t, DisplayBalance{Native: "1.50", Governance: "2.00", Staked: "0.25"}, display)
}

func TestGetBalanceDegradesFailingLedgerOnly(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalances(f.address, 700, 800, 900)
	f.chain.Fail(chaintest.Staked, chain.ErrUnavailable)
	f.chain.Fail(chaintest.Asset, apperr.Wrap(chain.ErrRejected, nil))

	bal, err := f.svc.GetBalance(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{LedgerGovernance, LedgerStaked}, bal.Degraded)
	assert.Equal(t, "700", bal.Native.String())
	assert.True(t, bal.Governance.IsZero())
	assert.True(t, bal.Staked.IsZero())

	assert.Equal(t, 2, f.chain.Calls(chaintest.Staked), "connectivity failures get one retry")
	assert.Equal(t, 1, f.chain.Calls(chaintest.Asset), "rejections are not retried")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BalanceDegraded.WithLabelValues(LedgerStaked)))
}

func TestGetBalanceRecoversFromSingleTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalances(f.address, 42, 0, 0)
	f.chain.FailTimes(chaintest.Native, 1)

	bal, err := f.svc.GetBalance(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, bal.IsDegraded())
	assert.Equal(t, "42", bal.Native.String())
	assert.Equal(t, 2, f.chain.Calls(chaintest.Native))
}

func TestGetBalanceRejectsForeignNetworkAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetBalance(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, keys.ErrInvalidAddress)
	assert.Zero(t, f.chain.Calls(""))
}

func TestSendInsufficientBalanceMakesNoChainCalls(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 300, 0)

	_, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(500), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, f.chain.Calls(""))

	txs, err := f.journal.ListByAccount(context.Background(), f.address, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSendValidatesInput(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 1000)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendInput{To: "5Grw", Amount: amount.FromUint64(1), Token: ledger.TokenNative})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = f.svc.Send(ctx, SendInput{To: bob, Amount: amount.Zero(), Token: ledger.TokenNative})
	assert.ErrorIs(t, err, amount.ErrInvalidAmount)

	_, err = f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(1), Token: "dot"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.Zero(t, f.chain.Calls(""))
}

func TestSendSubmitsSignedTransferAndTracksToConfirmed(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)

	tx, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(400), Token: ledger.TokenNative})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)
	require.NotEmpty(t, tx.ChainRef)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)
	op, ok := submitted[0].Operation.(chain.NativeTransfer)
	require.True(t, ok)
	assert.Equal(t, bob, op.To)
	assert.Equal(t, "400", op.Amount.String())
	assert.Equal(t, f.address, submitted[0].Signer)
	assert.Equal(t, tx.Nonce, submitted[0].Nonce)

	f.chain.Settle(tx.ChainRef, true, "")
	done := f.eventuallyStatus(t, tx.ID, ledger.StatusConfirmed)
	assert.NotEmpty(t, done.BlockRef)
	require.Eventually(t, func() bool {
		kinds := f.notes.Kinds()
		return len(kinds) == 1 && kinds[0] == notification.KindTransferConfirmed
	}, time.Second, 5*time.Millisecond)
}

func TestSendGovernanceTokenUsesAssetTransfer(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 0, 5_000)

	_, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(5_000), Token: ledger.TokenGovernance})
	require.NoError(t, err)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)
	op, ok := submitted[0].Operation.(chain.AssetTransfer)
	require.True(t, ok)
	assert.Equal(t, chain.GovernanceAssetID, op.AssetID)
}

func TestSendReservesPendingOutgoing(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(600), Token: ledger.TokenNative})
	require.NoError(t, err)
	f.chain.ResetCalls()

	_, err = f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(600), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, f.chain.Calls(chaintest.Submit))
}

func TestSendRetriesTransientSubmitOnceWithSameNonce(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	f.chain.FailTimes(chaintest.Submit, 1)

	tx, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(10), Token: ledger.TokenNative})
	require.NoError(t, err)
	assert.Equal(t, 2, f.chain.Calls(chaintest.Submit))
	require.Len(t, f.chain.Submitted(), 1)
	assert.Equal(t, tx.Nonce, f.chain.Submitted()[0].Nonce)
}

func TestSendUnacknowledgedStaysPendingUntilReconciled(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	ctx := context.Background()
	f.chain.Fail(chaintest.Submit, fmt.Errorf("gateway timeout: %w", chain.ErrUnavailable))

	tx, err := f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(900), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, chain.ErrUnavailable, "cause is preserved")
	assert.True(t, apperr.Retryable(err))

	stored, err := f.journal.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, stored.Status)
	assert.NotEmpty(t, stored.Nonce)
	assert.Empty(t, stored.ChainRef)

	// the unacknowledged amount stays reserved
	_, err = f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(200), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	f.chain.Fail(chaintest.Submit, nil)
	var ref string
	require.Eventually(t, func() bool {
		got, err := f.journal.Get(ctx, tx.ID)
		ref = got.ChainRef
		return err == nil && ref != ""
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, f.chain.Submitted(), 1)
	assert.Equal(t, tx.Nonce, f.chain.Submitted()[0].Nonce)

	f.chain.Settle(ref, true, "")
	f.eventuallyStatus(t, tx.ID, ledger.StatusConfirmed)
}

func TestSendLostReplyIsNotSentTwice(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	f.chain.DropAcks(2)

	tx, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(10), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrSubmissionFailed)

	var ref string
	require.Eventually(t, func() bool {
		got, err := f.journal.Get(context.Background(), tx.ID)
		ref = got.ChainRef
		return err == nil && ref != ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, f.chain.Submitted(), 1, "the resubmission is deduplicated by nonce")
	assert.GreaterOrEqual(t, f.chain.Calls(chaintest.Submit), 3)

	f.chain.Settle(ref, true, "")
	f.eventuallyStatus(t, tx.ID, ledger.StatusConfirmed)
}

func TestUnacknowledgedSendFailsOnDefinitiveRejection(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	// two unacknowledged attempts, then the resubmission is refused outright
	f.chain.FailTimes(chaintest.Submit, 2)
	f.chain.Fail(chaintest.Submit, apperr.Wrapf(chain.ErrRejected, nil, "Inability to pay some fees"))

	tx, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(10), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, chain.ErrUnavailable)

	failed := f.eventuallyStatus(t, tx.ID, ledger.StatusFailed)
	assert.Contains(t, failed.FailureReason, "Inability to pay some fees")
}

func TestSendChainRejectionIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	f.chain.Fail(chaintest.Submit, apperr.Wrapf(chain.ErrRejected, nil, "Inability to pay some fees"))

	_, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(10), Token: ledger.TokenNative})
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, chain.ErrRejected)
	assert.False(t, apperr.Retryable(err))
	assert.Equal(t, 1, f.chain.Calls(chaintest.Submit))
}

func TestConcurrentSendsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(context.Background(), SendInput{To: bob, Amount: amount.FromUint64(300), Token: ledger.TokenNative})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	// a concurrent refresh must not widen the window
	go func() { _, _ = f.svc.GetBalance(context.Background(), "") }()
	wg.Wait()

	assert.Equal(t, int32(3), succeeded.Load())
}

func TestTrackerOutlivesCallerContext(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	ctx, cancel := context.WithCancel(context.Background())

	tx, err := f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(1), Token: ledger.TokenNative})
	require.NoError(t, err)
	cancel()

	f.chain.Settle(tx.ChainRef, false, "dispatch error")
	done := f.eventuallyStatus(t, tx.ID, ledger.StatusFailed)
	assert.Equal(t, "dispatch error", done.FailureReason)
}

func TestResumeTrackingAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	followed, err := f.journal.Record(ctx, ledger.Transaction{Account: f.address, Token: ledger.TokenNative, Amount: amount.FromUint64(5), Counterparty: bob})
	require.NoError(t, err)
	_, err = f.journal.MarkSubmitted(ctx, followed.ID, "0xdead")
	require.NoError(t, err)
	orphan, err := f.journal.Record(ctx, ledger.Transaction{Account: f.address, Token: ledger.TokenNative, Amount: amount.FromUint64(5), Counterparty: bob})
	require.NoError(t, err)
	unacked, err := f.journal.Record(ctx, ledger.Transaction{Account: f.address, Token: ledger.TokenNative, Amount: amount.FromUint64(7), Counterparty: bob, Nonce: "0192f0c4-0000-7000-8000-000000000001"})
	require.NoError(t, err)

	f.chain.Settle("0xdead", true, "")
	n, err := f.svc.ResumeTracking(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.eventuallyStatus(t, followed.ID, ledger.StatusConfirmed)
	stored, err := f.journal.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, stored.Status)

	var ref string
	require.Eventually(t, func() bool {
		got, err := f.journal.Get(ctx, unacked.ID)
		ref = got.ChainRef
		return err == nil && ref != ""
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, f.chain.Submitted(), 1)
	assert.Equal(t, unacked.Nonce, f.chain.Submitted()[0].Nonce)
	f.chain.Settle(ref, true, "")
	f.eventuallyStatus(t, unacked.ID, ledger.StatusConfirmed)
}

func TestHistoryMergesDeduplicatesAndOrders(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(100), Token: ledger.TokenNative})
	require.NoError(t, err)

	gov := chain.GovernanceAssetID
	other := uint32(7)
	now := time.Now().UTC()
	f.chain.AddEvent(chain.RawEvent{ID: "1-1", From: f.address, To: bob, Amount: amount.FromUint64(100), TxHash: sent.ChainRef, Timestamp: now})
	f.chain.AddEvent(chain.RawEvent{ID: "1-2", AssetID: &gov, From: bob, To: f.address, Amount: amount.FromUint64(7), TxHash: "0xin1", Timestamp: now.Add(-time.Hour)})
	f.chain.AddEvent(chain.RawEvent{ID: "1-3", From: bob, To: f.address, Amount: amount.FromUint64(9), TxHash: "0xin2", Timestamp: now.Add(time.Hour)})
	f.chain.AddEvent(chain.RawEvent{ID: "1-4", AssetID: &other, From: bob, To: f.address, Amount: amount.FromUint64(1), TxHash: "0xin3", Timestamp: now})

	items, err := f.svc.History(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "0xin2", items[0].ChainRef)
	assert.Equal(t, sent.ID, items[1].ID)
	assert.Equal(t, "0xin1", items[2].ChainRef)
	assert.Equal(t, ledger.DirectionReceive, items[2].Direction)
	assert.Equal(t, ledger.TokenGovernance, items[2].Token)
	assert.Equal(t, bob, items[2].Counterparty)

	capped, err := f.svc.History(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestHistoryFallsBackToJournal(t *testing.T) {
	f := newFixture(t)
	f.primed(t, 1000, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Send(ctx, SendInput{To: bob, Amount: amount.FromUint64(uint64(i + 1)), Token: ledger.TokenNative})
		require.NoError(t, err, fmt.Sprintf("send %d", i))
	}
	f.chain.Fail(chaintest.RecentEvents, chain.ErrUnavailable)

	items, err := f.svc.History(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
