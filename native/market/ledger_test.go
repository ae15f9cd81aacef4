package market

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/holiman/uint256"

	"alcove/core/events"
	"alcove/crypto"
)

type memStore struct {
	markets    map[string]*Market
	positions  map[string]*Position
	allowances map[string]Allowance
}

func newMemStore() *memStore {
	return &memStore{
		markets:    make(map[string]*Market),
		positions:  make(map[string]*Position),
		allowances: make(map[string]Allowance),
	}
}

func posKey(asset string, addr crypto.Address) string {
	return asset + "|" + string(addr.Bytes())
}

func allowKey(asset string, kind AllowanceKind, owner, spender crypto.Address) string {
	return fmt.Sprintf("%s|%d|%s|%s", asset, kind, owner, spender)
}

func (s *memStore) GetMarket(asset string) (*Market, error) {
	m, ok := s.markets[asset]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (s *memStore) PutMarket(m *Market) error {
	s.markets[m.Asset] = m.Clone()
	return nil
}

func (s *memStore) MarketAssets() ([]string, error) {
	assets := make([]string, 0, len(s.markets))
	for asset := range s.markets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets, nil
}

func (s *memStore) GetPosition(asset string, owner crypto.Address) (*Position, error) {
	pos, ok := s.positions[posKey(asset, owner)]
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}

func (s *memStore) PutPosition(asset string, owner crypto.Address, pos *Position) error {
	s.positions[posKey(asset, owner)] = pos.Clone()
	return nil
}

func (s *memStore) GetAllowance(asset string, kind AllowanceKind, owner, spender crypto.Address) (Allowance, error) {
	return s.allowances[allowKey(asset, kind, owner, spender)], nil
}

func (s *memStore) PutAllowance(asset string, kind AllowanceKind, owner, spender crypto.Address, grant Allowance) error {
	s.allowances[allowKey(asset, kind, owner, spender)] = grant
	return nil
}

// memBank is a balance map with an optional receive-side fee so tests can
// exercise the actually-received paths.
type memBank struct {
	balances map[string]map[crypto.Address]*uint256.Int
	fee      *uint256.Int
}

func newMemBank() *memBank {
	return &memBank{balances: make(map[string]map[crypto.Address]*uint256.Int)}
}

func (b *memBank) fund(asset string, addr crypto.Address, amount *uint256.Int) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[crypto.Address]*uint256.Int)
	}
	current := b.balances[asset][addr]
	if current == nil {
		current = new(uint256.Int)
	}
	b.balances[asset][addr] = new(uint256.Int).Add(current, amount)
}

func (b *memBank) Transfer(asset string, from, to crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[crypto.Address]*uint256.Int)
	}
	src := b.balances[asset][from]
	if src == nil || src.Lt(amount) {
		return nil, fmt.Errorf("bank: insufficient funds for %s", from)
	}
	received := clone(amount)
	if isPositive(b.fee) {
		cut, err := mulTruncate(amount, b.fee)
		if err != nil {
			return nil, err
		}
		received = new(uint256.Int).Sub(amount, cut)
	}
	b.balances[asset][from] = new(uint256.Int).Sub(src, amount)
	dst := b.balances[asset][to]
	if dst == nil {
		dst = new(uint256.Int)
	}
	b.balances[asset][to] = new(uint256.Int).Add(dst, received)
	return clone(received), nil
}

func (b *memBank) Balance(asset string, addr crypto.Address) (*uint256.Int, error) {
	if b.balances[asset] == nil {
		return new(uint256.Int), nil
	}
	bal := b.balances[asset][addr]
	if bal == nil {
		return new(uint256.Int), nil
	}
	return clone(bal), nil
}

// stubRisk approves everything unless a specific rejection is armed, and
// records global-guard traffic.
type stubRisk struct {
	denyMint      error
	denyRedeem    error
	denyBorrow    error
	denyLimits    error
	denyRepay     error
	denyLiquidate error
	denySeize     error
	denyTransfer  error
	supplyCap     *uint256.Int
	seizeShares   *uint256.Int
	seizeErr      error
	globalHeld    bool
	beforeCalls   int
	afterCalls    int
}

func (r *stubRisk) MintAllowed(string, crypto.Address, *uint256.Int) error   { return r.denyMint }
func (r *stubRisk) RedeemAllowed(string, crypto.Address, *uint256.Int) error { return r.denyRedeem }
func (r *stubRisk) BorrowAllowed(string, crypto.Address, *uint256.Int) error { return r.denyBorrow }
func (r *stubRisk) BorrowWithinLimits(string, *uint256.Int) error            { return r.denyLimits }
func (r *stubRisk) RepayAllowed(string, crypto.Address, crypto.Address) error {
	return r.denyRepay
}
func (r *stubRisk) LiquidateAllowed(string, string, crypto.Address, crypto.Address, *uint256.Int) error {
	return r.denyLiquidate
}
func (r *stubRisk) SeizeAllowed(string, string, crypto.Address, crypto.Address) error {
	return r.denySeize
}
func (r *stubRisk) TransferAllowed(string, crypto.Address, *uint256.Int) error {
	return r.denyTransfer
}
func (r *stubRisk) CalculateSeizeShares(_, _ string, repay *uint256.Int) (*uint256.Int, error) {
	if r.seizeErr != nil {
		return nil, r.seizeErr
	}
	if r.seizeShares != nil {
		return clone(r.seizeShares), nil
	}
	return clone(repay), nil
}
func (r *stubRisk) SupplyCap(string) *uint256.Int { return r.supplyCap }
func (r *stubRisk) BeforeNonReentrant() error {
	r.beforeCalls++
	if r.globalHeld {
		return errors.New("risk: global guard held")
	}
	r.globalHeld = true
	return nil
}
func (r *stubRisk) AfterNonReentrant() {
	r.afterCalls++
	r.globalHeld = false
}

// stubVault custodies deposits at its own bank address and tracks the
// underlying total per asset.
type stubVault struct {
	bank    *memBank
	custody crypto.Address
	held    map[string]*uint256.Int
}

func newStubVault(bank *memBank, name string) *stubVault {
	return &stubVault{
		bank:    bank,
		custody: crypto.ModuleAddress("test/vault/" + name),
		held:    make(map[string]*uint256.Int),
	}
}

func (v *stubVault) Deposit(asset string, amount *uint256.Int) error {
	if _, err := v.bank.Transfer(asset, CustodyAddress(asset), v.custody, amount); err != nil {
		return err
	}
	current := v.held[asset]
	if current == nil {
		current = new(uint256.Int)
	}
	v.held[asset] = new(uint256.Int).Add(current, amount)
	return nil
}

func (v *stubVault) Withdraw(asset string, amount *uint256.Int) error {
	current := v.held[asset]
	if current == nil || current.Lt(amount) {
		return fmt.Errorf("vault: insufficient holdings")
	}
	if _, err := v.bank.Transfer(asset, v.custody, CustodyAddress(asset), amount); err != nil {
		return err
	}
	v.held[asset] = new(uint256.Int).Sub(current, amount)
	return nil
}

func (v *stubVault) RedeemAll(asset string) (*uint256.Int, error) {
	total := v.held[asset]
	if !isPositive(total) {
		return new(uint256.Int), nil
	}
	amount := clone(total)
	if err := v.Withdraw(asset, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (v *stubVault) BalanceOfUnderlying(asset string) (*uint256.Int, error) {
	total := v.held[asset]
	if total == nil {
		return new(uint256.Int), nil
	}
	return clone(total), nil
}

type captureEmitter struct {
	emitted []*events.Event
}

func (c *captureEmitter) Emit(evt *events.Event) {
	c.emitted = append(c.emitted, evt)
}

func (c *captureEmitter) byType(eventType string) []*events.Event {
	var matched []*events.Event
	for _, evt := range c.emitted {
		if evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

type fixedClock struct {
	at uint64
}

func (c *fixedClock) now() uint64       { return c.at }
func (c *fixedClock) advance(by uint64) { c.at += by }

func makeAddress(suffix byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[0] = 0x10
	raw[crypto.AddressLength-1] = suffix
	return crypto.Address(raw)
}

const testAsset = "USDQ"

var (
	adminAddr    = makeAddress(0xAA)
	guardianAddr = makeAddress(0xBB)
	zeroAddr     crypto.Address
)

type testEnv struct {
	ledger *Ledger
	store  *memStore
	bank   *memBank
	risk   *stubRisk
	clock  *fixedClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	bank := newMemBank()
	risk := &stubRisk{}
	clock := &fixedClock{at: 1_700_000_000}

	ledger := NewLedger(store, bank)
	ledger.SetRiskEngine(risk)
	ledger.SetNowFunc(clock.now)
	ledger.SetAdmin(adminAddr)
	ledger.SetGuardian(guardianAddr)
	ledger.RegisterRateModel("fixed-zero", NewFixedRateModel(new(uint256.Int)))
	ledger.RegisterRateModel("fixed", NewFixedRateModel(uint256.NewInt(1_000_000_000)))
	ledger.RegisterRateModel("jump", DefaultJumpRateModel())

	return &testEnv{ledger: ledger, store: store, bank: bank, risk: risk, clock: clock}
}

func (e *testEnv) listMarket(t *testing.T, asset, model string) {
	t.Helper()
	_, err := e.ledger.ListMarket(adminAddr, ListingConfig{
		Asset:               asset,
		RateModel:           model,
		InitialExchangeRate: mantissa(t, "200000000000000000"),
		ReserveFactor:       mantissa(t, "100000000000000000"),
		ProtocolFeeRate:     mantissa(t, "100000000000000000"),
		ProtocolSeizeRate:   mantissa(t, "28000000000000000"),
		PlatformSeizeRate:   mantissa(t, "10000000000000000"),
	})
	if err != nil {
		t.Fatalf("list market %s: %v", asset, err)
	}
}

func (e *testEnv) deposit(t *testing.T, asset string, who crypto.Address, amount *uint256.Int) *MintResult {
	t.Helper()
	e.bank.fund(asset, who, amount)
	res, err := e.ledger.Mint(asset, who, who, amount)
	if err != nil {
		t.Fatalf("mint %s for %s: %v", amount, who, err)
	}
	return res
}

func (e *testEnv) market(t *testing.T, asset string) *Market {
	t.Helper()
	m, err := e.ledger.GetMarket(asset)
	if err != nil {
		t.Fatalf("get market %s: %v", asset, err)
	}
	return m
}

// assertConservation pins the §-free form of the pool identity: the
// floored share value never exceeds supplier-owned assets, and the gap
// stays within truncation tolerance.
func assertConservation(t *testing.T, e *testEnv, asset string) {
	t.Helper()
	m := e.market(t, asset)
	if !isPositive(m.TotalShares) {
		return
	}
	cash, err := e.ledger.Cash(asset)
	if err != nil {
		t.Fatalf("cash: %v", err)
	}
	totalAssets, err := storedTotalAssets(cash, m.TotalBorrows, m.TotalReserves, m.TotalProtocolFees, m.TotalPlatformFees)
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	rate, err := e.ledger.ExchangeRateStored(asset)
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	claimed, err := mulTruncate(m.TotalShares, rate)
	if err != nil {
		t.Fatalf("claimed value: %v", err)
	}
	if claimed.Gt(totalAssets) {
		t.Fatalf("share claims %s exceed pool assets %s", claimed, totalAssets)
	}
	gap := new(uint256.Int).Sub(totalAssets, claimed)
	tolerance := new(uint256.Int).Div(m.TotalShares, scale)
	tolerance.AddUint64(tolerance, 1)
	if gap.Gt(tolerance) {
		t.Fatalf("conservation gap %s beyond tolerance %s", gap, tolerance)
	}
}

func TestLedgerRequiresWiring(t *testing.T) {
	bare := NewLedger(nil, nil)
	if _, err := bare.Mint(testAsset, makeAddress(1), makeAddress(1), u(1)); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	storeOnly := NewLedger(newMemStore(), nil)
	if _, err := storeOnly.Mint(testAsset, makeAddress(1), makeAddress(1), u(1)); !errors.Is(err, errNilBank) {
		t.Fatalf("expected errNilBank, got %v", err)
	}
}

func TestLedgerRejectsUnlistedMarket(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.ledger.Mint("GHOST", makeAddress(1), makeAddress(1), u(1)); !errors.Is(err, ErrMarketNotListed) {
		t.Fatalf("expected ErrMarketNotListed, got %v", err)
	}
	if !IsPolicyRejection(ErrMarketNotListed) {
		t.Fatalf("ErrMarketNotListed must classify as policy")
	}
}

func TestPauseGuardBlocksMutations(t *testing.T) {
	env := newTestEnv(t)
	env.listMarket(t, testAsset, "fixed-zero")
	env.ledger.SetPauses(pauseAll{})
	env.bank.fund(testAsset, makeAddress(1), u(100))
	if _, err := env.ledger.Mint(testAsset, makeAddress(1), makeAddress(1), u(100)); err == nil || !IsPolicyRejection(err) {
		t.Fatalf("expected pause rejection, got %v", err)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestLocalGuardRejectsReentry(t *testing.T) {
	env := newTestEnv(t)
	env.listMarket(t, testAsset, "fixed-zero")
	release, err := env.ledger.enter(testAsset)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer release()
	if _, err := env.ledger.AccrueInterest(testAsset); !errors.Is(err, ErrReentered) {
		t.Fatalf("expected ErrReentered, got %v", err)
	}
}

func TestCrossGuardReleasesOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.listMarket(t, testAsset, "fixed-zero")
	env.listMarket(t, "WETH", "fixed-zero")

	env.risk.globalHeld = true
	if _, err := env.ledger.enterCross(testAsset, "WETH"); err == nil {
		t.Fatalf("expected global guard rejection")
	}
	// Both local guards must have been released on the failed acquire.
	release, err := env.ledger.enter(testAsset)
	if err != nil {
		t.Fatalf("local guard leaked for %s: %v", testAsset, err)
	}
	release()
	release, err = env.ledger.enter("WETH")
	if err != nil {
		t.Fatalf("local guard leaked for WETH: %v", err)
	}
	release()
}
