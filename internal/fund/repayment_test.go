package fund

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExchangeObserver/internal/collector"
	"ExchangeObserver/internal/model"
)

func usdtSnapshot(vaultAmount string) *collector.Snapshot {
	return &collector.Snapshot{
		Margin: []model.MarginBalance{{Symbol: "USDT", Balance: d("30"), Borrowed: d("100")}},
		Main:   []model.MainBalance{{Symbol: "USDT", Balance: d("20")}},
		Vaults: []model.VaultBalance{{Asset: "USDT", Network: "TRC20", VaultAccountID: 1, Amount: d(vaultAmount)}},
	}
}

func TestRepayment_FullCascade(t *testing.T) {
	f := newFixture(usdtSnapshot("70"),
		[]model.FundingAsset{usdtAsset("TRC20", 5)},
		[]model.VaultAccount{vault(1, 1, map[string]string{"USDT": "10"})})
	require.NoError(t, f.ledger.Upsert(context.Background(), model.DebtMonitorEntry{Symbol: "USDT", Reason: model.ReasonInsufficientBalance}))

	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Positions: 1, Resolved: 1}, res)

	require.Len(t, f.ledger.transfers, 3)
	self, main, fromVault := f.ledger.transfers[0], f.ledger.transfers[1], f.ledger.transfers[2]

	assert.Equal(t, model.LabelMargin, self.Source)
	assert.Equal(t, model.LabelMarginBorrowed, self.Destination)
	assert.True(t, self.Amount.Equal(d("30")))

	assert.Equal(t, model.LabelMain, main.Source)
	assert.True(t, main.Amount.Equal(d("20")))

	assert.Equal(t, model.LabelVault, fromVault.Source)
	assert.True(t, fromVault.Amount.Equal(d("51")), "vault transfer must include the funding fee")
	assert.True(t, fromVault.Fee.Equal(d("1")))
	assert.True(t, fromVault.Credited().Equal(d("50")))
	assert.Equal(t, "req-3", fromVault.RequestID)
	assert.True(t, fromVault.IndexPrice.Equal(d("1")))

	assert.Empty(t, f.ledger.entries, "resolved debt clears the monitor")
	assert.True(t, f.assets.get("USDT", "TRC20").LockedUntil.Equal(testNow.Add(30*time.Minute)))
	assert.True(t, f.ledger.credited("USDT").Equal(d("100")))
}

func TestRepayment_PartialPassChargesFeeOncePerTransfer(t *testing.T) {
	f := newFixture(usdtSnapshot("50"),
		[]model.FundingAsset{usdtAsset("TRC20", 5)},
		[]model.VaultAccount{vault(1, 1, map[string]string{"USDT": "10"})})

	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unresolved)

	vaultCalls := f.gateway.ops("vault")
	require.Len(t, vaultCalls, 1)
	assert.True(t, vaultCalls[0].Amount.Equal(d("40")))

	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonInsufficientBalance, entry.Reason)
	assert.Equal(t, model.CategoryDebt, entry.Category)
	assert.True(t, entry.Amount.Equal(d("11")), "got %s", entry.Amount)

	// initial debt = credited transfers + monitored shortfall
	assert.True(t, d("100").Equal(f.ledger.credited("USDT").Add(entry.Amount)))
	assert.True(t, f.assets.get("USDT", "TRC20").IsLocked(testNow))
}

func TestRepayment_PartialPassAcrossVaults(t *testing.T) {
	snap := &collector.Snapshot{
		Margin: []model.MarginBalance{{Symbol: "USDT", Balance: d("0"), Borrowed: d("50")}},
		Vaults: []model.VaultBalance{
			{Asset: "USDT", Network: "TRC20", VaultAccountID: 1, Amount: d("30")},
			{Asset: "USDT", Network: "TRC20", VaultAccountID: 2, Amount: d("30")},
		},
	}
	f := newFixture(snap,
		[]model.FundingAsset{usdtAsset("TRC20", 5)},
		[]model.VaultAccount{vault(1, 5, nil), vault(2, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	calls := f.gateway.ops("vault")
	require.Len(t, calls, 2)
	assert.Equal(t, 1, calls[0].VaultID)
	assert.True(t, calls[0].Amount.Equal(d("30")))
	assert.Equal(t, 2, calls[1].VaultID)
	assert.True(t, calls[1].Amount.Equal(d("22")), "second transfer covers residual 21 plus fee 1")
	assert.Empty(t, f.ledger.entries)
	assert.True(t, f.ledger.credited("USDT").Equal(d("50")))
}

func TestRepayment_SelfRepayOnly(t *testing.T) {
	snap := &collector.Snapshot{Margin: []model.MarginBalance{{Symbol: "BTC", Balance: d("2"), Borrowed: d("0.5")}}}
	f := newFixture(snap, nil, nil)
	require.NoError(t, f.ledger.Upsert(context.Background(), model.DebtMonitorEntry{Symbol: "BTC", Reason: model.ReasonError}))

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.ledger.transfers, 1)
	assert.True(t, f.ledger.transfers[0].Amount.Equal(d("0.5")))
	assert.Equal(t, model.LabelMarginBorrowed, f.ledger.transfers[0].Destination)
	assert.Empty(t, f.ledger.entries)
}

func TestRepayment_WeightOrdering(t *testing.T) {
	snap := &collector.Snapshot{
		Margin: []model.MarginBalance{{Symbol: "USDT", Balance: d("0"), Borrowed: d("20")}},
		Vaults: []model.VaultBalance{
			{Asset: "USDT", Network: "TRC20", VaultAccountID: 1, Amount: d("100")},
			{Asset: "USDT", Network: "ERC20", VaultAccountID: 1, Amount: d("100")},
			{Asset: "USDT", Network: "ERC20", VaultAccountID: 2, Amount: d("100")},
		},
	}
	f := newFixture(snap,
		[]model.FundingAsset{usdtAsset("TRC20", 5), usdtAsset("ERC20", 9)},
		[]model.VaultAccount{vault(1, 1, nil), vault(2, 3, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	calls := f.gateway.ops("vault")
	require.Len(t, calls, 1)
	assert.Equal(t, "ERC20", calls[0].Network, "higher asset weight first")
	assert.Equal(t, 2, calls[0].VaultID, "higher vault weight first within the asset")
	assert.True(t, calls[0].Amount.Equal(d("21")))
}

func TestRepayment_LockedAssetSkipsVaults(t *testing.T) {
	locked := usdtAsset("TRC20", 5)
	locked.LockedUntil = testNow.Add(10 * time.Minute)
	f := newFixture(usdtSnapshot("1000"),
		[]model.FundingAsset{locked, usdtAsset("ERC20", 9)},
		[]model.VaultAccount{vault(1, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.gateway.ops("vault"))
	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonPaymentInProcess, entry.Reason)
	assert.True(t, entry.Amount.Equal(d("50")))
}

func TestRepayment_DisabledLockedAssetStillGuards(t *testing.T) {
	locked := usdtAsset("ERC20", 9)
	locked.Enabled = false
	locked.LockedUntil = testNow.Add(time.Minute)
	f := newFixture(usdtSnapshot("1000"),
		[]model.FundingAsset{usdtAsset("TRC20", 5), locked},
		[]model.VaultAccount{vault(1, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.gateway.ops("vault"))
	assert.Equal(t, model.ReasonPaymentInProcess, f.ledger.entries["USDT"].Reason)
}

func TestRepayment_ExpiredLockDoesNotGuard(t *testing.T) {
	expired := usdtAsset("TRC20", 5)
	expired.LockedUntil = testNow.Add(-time.Second)
	f := newFixture(usdtSnapshot("1000"), []model.FundingAsset{expired}, []model.VaultAccount{vault(1, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.gateway.ops("vault"), 1)
}

func TestRepayment_NoEnabledAssetSkipsMainAndVaults(t *testing.T) {
	disabled := usdtAsset("TRC20", 5)
	disabled.Enabled = false
	f := newFixture(usdtSnapshot("1000"), []model.FundingAsset{disabled}, []model.VaultAccount{vault(1, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.gateway.ops("repay"), 1)
	assert.Empty(t, f.gateway.ops("main"))
	assert.Empty(t, f.gateway.ops("vault"))
	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonInsufficientBalance, entry.Reason)
	assert.True(t, entry.Amount.Equal(d("70")))
}

func TestRepayment_FloorAndMinTransferRespected(t *testing.T) {
	snap := &collector.Snapshot{
		Margin: []model.MarginBalance{{Symbol: "USDT", Balance: d("0"), Borrowed: d("100")}},
		Vaults: []model.VaultBalance{
			{Asset: "USDT", Network: "TRC20", VaultAccountID: 1, Amount: d("15")},
			{Asset: "USDT", Network: "TRC20", VaultAccountID: 2, Amount: d("8")},
		},
	}
	f := newFixture(snap,
		[]model.FundingAsset{usdtAsset("TRC20", 5)},
		[]model.VaultAccount{vault(1, 1, map[string]string{"USDT": "10"}), vault(2, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.gateway.ops("vault"), "available 5 and 8 are both below the minimum transfer of 10")
	assert.True(t, f.ledger.entries["USDT"].Amount.Equal(d("100")))
	assert.False(t, f.assets.get("USDT", "TRC20").IsLocked(testNow))
}

func TestRepayment_FullPassRespectsMinTransfer(t *testing.T) {
	snap := &collector.Snapshot{
		Margin: []model.MarginBalance{{Symbol: "USDT", Balance: d("0"), Borrowed: d("3")}},
		Vaults: []model.VaultBalance{{Asset: "USDT", Network: "TRC20", VaultAccountID: 1, Amount: d("100")}},
	}
	f := newFixture(snap, []model.FundingAsset{usdtAsset("TRC20", 5)}, []model.VaultAccount{vault(1, 1, nil)})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.gateway.ops("vault"), "required 4 is below the minimum transfer")
	assert.Equal(t, model.ReasonInsufficientBalance, f.ledger.entries["USDT"].Reason)
}

func TestRepayment_ErrorIsolatedPerPosition(t *testing.T) {
	snap := &collector.Snapshot{
		Margin: []model.MarginBalance{
			{Symbol: "BTC", Balance: d("1"), Borrowed: d("0.5")},
			{Symbol: "USDT", Balance: d("30"), Borrowed: d("30")},
		},
	}
	f := newFixture(snap, nil, nil)
	f.gateway.fail["repay:BTC"] = errors.New("venue timeout")

	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Positions: 2, Resolved: 1, Failed: 1}, res)

	btc := f.ledger.entries["BTC"]
	assert.Equal(t, model.ReasonError, btc.Reason)
	assert.Contains(t, btc.Comment, "venue timeout")
	assert.True(t, btc.Amount.Equal(d("0.5")))

	require.Len(t, f.ledger.transfers, 1)
	assert.Equal(t, "USDT", f.ledger.transfers[0].Asset)

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["symbol"] == "BTC" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestRepayment_VaultFailureAfterMain(t *testing.T) {
	f := newFixture(usdtSnapshot("100"), []model.FundingAsset{usdtAsset("TRC20", 5)}, []model.VaultAccount{vault(1, 1, nil)})
	f.gateway.fail["vault:USDT"] = errors.New("custody rejected")

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonError, entry.Reason)
	assert.True(t, entry.Amount.Equal(d("50")))
	assert.True(t, d("100").Equal(f.ledger.credited("USDT").Add(entry.Amount)))
	assert.False(t, f.assets.get("USDT", "TRC20").IsLocked(testNow), "failed transfers do not lock")
}

func TestRepayment_LedgerFailureAfterTransfer(t *testing.T) {
	snap := &collector.Snapshot{Margin: []model.MarginBalance{{Symbol: "USDT", Balance: d("30"), Borrowed: d("30")}}}
	f := newFixture(snap, nil, nil)
	f.ledger.appendErr = errors.New("disk full")

	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, f.gateway.ops("repay"), 1, "the movement happened even though it was not recorded")

	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonError, entry.Reason)
	assert.Contains(t, entry.Comment, "disk full")
	assert.True(t, entry.Amount.IsZero())
}

func TestRepayment_LockFailureAfterVaultTransferIsStillRecorded(t *testing.T) {
	f := newFixture(usdtSnapshot("100"), []model.FundingAsset{usdtAsset("TRC20", 5)}, []model.VaultAccount{vault(1, 1, nil)})
	f.assets.lockErr = errors.New("config store unavailable")

	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, f.gateway.ops("vault"), 1)

	require.Len(t, f.ledger.transfers, 3)
	fromVault := f.ledger.transfers[2]
	assert.Equal(t, model.LabelVault, fromVault.Source)
	assert.Equal(t, "req-3", fromVault.RequestID)
	assert.True(t, fromVault.Amount.Equal(d("51")))

	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonError, entry.Reason)
	assert.Contains(t, entry.Comment, "config store unavailable")
	assert.True(t, d("100").Equal(f.ledger.credited("USDT").Add(entry.Amount)))
}

func TestRepayment_VaultLedgerFailureStillLocks(t *testing.T) {
	f := newFixture(usdtSnapshot("100"), []model.FundingAsset{usdtAsset("TRC20", 5)}, []model.VaultAccount{vault(1, 1, nil)})
	f.ledger.appendErr = errors.New("disk full")
	f.ledger.failSource = model.LabelVault

	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, f.gateway.ops("vault"), 1)
	assert.Len(t, f.ledger.transfers, 2, "self-repay and main transfers are recorded")

	entry := f.ledger.entries["USDT"]
	assert.Equal(t, model.ReasonError, entry.Reason)
	assert.Contains(t, entry.Comment, "disk full")
	assert.True(t, entry.Amount.IsZero(), "the vault movement still reduces the residual")
	assert.True(t, f.assets.get("USDT", "TRC20").IsLocked(testNow), "funds in flight keep the asset locked")
}

func TestRepayment_CollectFailureAbortsCycle(t *testing.T) {
	f := newFixture(nil, nil, nil)
	f.engine.Balances = &fakeBalances{err: errors.New("connector down")}

	_, err := f.engine.Run(context.Background())
	assert.ErrorContains(t, err, "connector down")
}

func TestRankCandidates(t *testing.T) {
	disabled := usdtAsset("BEP20", 100)
	disabled.Enabled = false
	got := rankCandidates(
		[]model.FundingAsset{usdtAsset("TRC20", 5), disabled, usdtAsset("ERC20", 5), usdtAsset("SOL", 7)},
		[]model.VaultAccount{vault(3, 1, nil), vault(1, 1, nil), vault(2, 4, nil)},
	)

	var order []string
	for _, c := range got {
		order = append(order, c.asset.Network+"/"+string(rune('0'+c.vault.ID)))
	}
	assert.Equal(t, []string{
		"SOL/2", "SOL/1", "SOL/3",
		"ERC20/2", "ERC20/1", "ERC20/3",
		"TRC20/2", "TRC20/1", "TRC20/3",
	}, order)
}
