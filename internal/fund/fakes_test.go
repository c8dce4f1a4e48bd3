package fund

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"

	"ExchangeObserver/internal/collector"
	"ExchangeObserver/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type memAssets struct {
	mu     sync.Mutex
	assets  []model.FundingAsset
	err     error
	lockErr error
}

func (m *memAssets) Assets(context.Context) ([]model.FundingAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.FundingAsset, len(m.assets))
	copy(out, m.assets)
	return out, nil
}

func (m *memAssets) LockAsset(_ context.Context, symbol string, until time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockErr != nil {
		return 0, m.lockErr
	}
	n := 0
	for i := range m.assets {
		if m.assets[i].Symbol == symbol && until.After(m.assets[i].LockedUntil) {
			m.assets[i].LockedUntil = until
			n++
		}
	}
	return n, nil
}

func (m *memAssets) get(symbol, network string) model.FundingAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.Symbol == symbol && a.Network == network {
			return a
		}
	}
	return model.FundingAsset{}
}

// memLedger implements both recorder.Ledger and recorder.DebtMonitor.
type memLedger struct {
	transfers []model.TransferRecord
	entries   map[string]model.DebtMonitorEntry
	appendErr error
	// failSource limits appendErr to records from that source when set.
	failSource string
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string]model.DebtMonitorEntry{}}
}

func (l *memLedger) AppendTransfer(_ context.Context, rec *model.TransferRecord) error {
	if l.appendErr != nil && (l.failSource == "" || l.failSource == rec.Source) {
		return l.appendErr
	}
	rec.ID = int64(len(l.transfers) + 1)
	l.transfers = append(l.transfers, *rec)
	return nil
}

func (l *memLedger) ListTransfers(context.Context, model.TransferFilter) ([]model.TransferRecord, error) {
	return l.transfers, nil
}

func (l *memLedger) Upsert(_ context.Context, entry model.DebtMonitorEntry) error {
	l.entries[entry.Symbol] = entry
	return nil
}

func (l *memLedger) Delete(_ context.Context, symbol string) error {
	delete(l.entries, symbol)
	return nil
}

func (l *memLedger) Get(_ context.Context, symbol string) (*model.DebtMonitorEntry, error) {
	e, ok := l.entries[symbol]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (l *memLedger) List(context.Context) ([]model.DebtMonitorEntry, error) {
	var out []model.DebtMonitorEntry
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// credited sums what the ledger paid against symbol's debt.
func (l *memLedger) credited(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, r := range l.transfers {
		if r.Asset == symbol {
			total = total.Add(r.Credited())
		}
	}
	return total
}

type gatewayCall struct {
	Op      string
	Symbol  string
	Network string
	VaultID int
	Amount  decimal.Decimal
}

type fakeGateway struct {
	calls []gatewayCall
	fail  map[string]error // keyed by op+":"+symbol
}

func (g *fakeGateway) record(c gatewayCall) (string, error) {
	if err := g.fail[c.Op+":"+c.Symbol]; err != nil {
		return "", err
	}
	g.calls = append(g.calls, c)
	return fmt.Sprintf("req-%d", len(g.calls)), nil
}

func (g *fakeGateway) Repay(_ context.Context, symbol string, amount decimal.Decimal, _ string) (string, error) {
	return g.record(gatewayCall{Op: "repay", Symbol: symbol, Amount: amount})
}

func (g *fakeGateway) TransferMainToMargin(_ context.Context, symbol string, amount decimal.Decimal) (string, error) {
	return g.record(gatewayCall{Op: "main", Symbol: symbol, Amount: amount})
}

func (g *fakeGateway) TransferVaultToMargin(_ context.Context, asset, network string, vaultID int, amount decimal.Decimal) (string, error) {
	return g.record(gatewayCall{Op: "vault", Symbol: asset, Network: network, VaultID: vaultID, Amount: amount})
}

func (g *fakeGateway) ops(op string) []gatewayCall {
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeBalances struct {
	snap *collector.Snapshot
	err  error
}

func (f *fakeBalances) Collect(context.Context) (*collector.Snapshot, error) {
	return f.snap, f.err
}

type fakeVaults []model.VaultAccount

func (f fakeVaults) VaultAccounts(context.Context) ([]model.VaultAccount, error) {
	return f, nil
}

type fakePrices map[string]decimal.Decimal

func (p fakePrices) IndexPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := p[symbol]
	if !ok {
		return decimal.Zero, errors.New("price feed unavailable")
	}
	return price, nil
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) NotifyMonitor(ctx context.Context, entry model.DebtMonitorEntry, resolved bool) {
	m.Called(ctx, entry.Symbol, entry.Reason, resolved)
}

type fixture struct {
	assets  *memAssets
	ledger  *memLedger
	gateway *fakeGateway
	hook    *test.Hook
	helper  *Helper
	engine  *RepaymentEngine
}

func newFixture(snap *collector.Snapshot, assets []model.FundingAsset, vaults []model.VaultAccount) *fixture {
	logger, hook := test.NewNullLogger()
	f := &fixture{
		assets:  &memAssets{assets: assets},
		ledger:  newMemLedger(),
		gateway: &fakeGateway{fail: map[string]error{}},
		hook:    hook,
	}
	f.helper = NewHelper(f.assets, f.ledger, f.ledger, fakePrices{"USDT": d("1"), "BTC": d("60000")}, logger)
	f.helper.Now = func() time.Time { return testNow }
	f.engine = NewRepaymentEngine(&fakeBalances{snap: snap}, fakeVaults(vaults), f.gateway, f.helper, "Binance", logger)
	return f
}

func usdtAsset(network string, weight int) model.FundingAsset {
	return model.FundingAsset{
		Symbol:            "USDT",
		Network:           network,
		Weight:            weight,
		Enabled:           true,
		MinTransferAmount: d("10"),
		LockedUntil:       model.Epoch,
		CounterpartSymbol: "USDT",
		LockMinutes:       30,
		FundingFee:        d("1"),
	}
}

func vault(id, weight int, floors map[string]string) model.VaultAccount {
	m := map[string]decimal.Decimal{}
	for k, v := range floors {
		m[k] = d(v)
	}
	return model.NewVaultAccount(id, weight, m)
}
