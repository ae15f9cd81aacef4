package market

import (
	"time"

	"github.com/holiman/uint256"

	"alcove/core/events"
	"alcove/crypto"
	nativecommon "alcove/native/common"
)

// Ledger orchestrates every market state transition: accrual, supply,
// borrow, liquidation, and administration. It owns no goroutines; the
// host serializes transitions and provides all-or-nothing persistence, so
// the guards here defend against reentrancy inside a transition, not
// against parallel callers.
type Ledger struct {
	store    Store
	bank     Bank
	risk     RiskEngine
	fees     FeeRegistry
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	models   map[string]RateModel
	vaults   map[string]YieldVault
	admin    crypto.Address
	guardian crypto.Address
	entered  map[string]bool
	now      func() uint64
}

// NewLedger wires a ledger to its persistence and custody collaborators.
// Risk engine, fee registry, pauses, and emitter default to permissive
// no-ops until set.
func NewLedger(store Store, bank Bank) *Ledger {
	return &Ledger{
		store:   store,
		bank:    bank,
		emitter: events.NoopEmitter{},
		models:  make(map[string]RateModel),
		vaults:  make(map[string]YieldVault),
		entered: make(map[string]bool),
		now:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetRiskEngine wires the external policy gate. Passing nil disables
// policy checks and the global reentrancy guard.
func (l *Ledger) SetRiskEngine(risk RiskEngine) {
	if l == nil {
		return
	}
	l.risk = risk
}

// SetFeeRegistry wires the platform fee source read at accrual.
func (l *Ledger) SetFeeRegistry(fees FeeRegistry) {
	if l == nil {
		return
	}
	l.fees = fees
}

// SetPauses wires the module pause switchboard.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the accrual clock. Tests use this to advance time
// deterministically; passing nil restores the wall clock.
func (l *Ledger) SetNowFunc(now func() uint64) {
	if l == nil {
		return
	}
	if now == nil {
		l.now = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	l.now = now
}

// SetAdmin assigns the admin capability address.
func (l *Ledger) SetAdmin(addr crypto.Address) {
	if l == nil {
		return
	}
	l.admin = addr
}

// SetGuardian assigns the guardian capability address. The guardian may
// only clear vaults and never set one.
func (l *Ledger) SetGuardian(addr crypto.Address) {
	if l == nil {
		return
	}
	l.guardian = addr
}

// RegisterRateModel makes a named curve available to markets.
func (l *Ledger) RegisterRateModel(name string, model RateModel) {
	if l == nil || name == "" || model == nil {
		return
	}
	l.models[name] = model
}

// RegisterVault makes a named yield vault available to markets.
func (l *Ledger) RegisterVault(name string, vault YieldVault) {
	if l == nil || name == "" || vault == nil {
		return
	}
	l.vaults[name] = vault
}

// CustodyAddress returns the module account holding a market's direct
// cash balance.
func CustodyAddress(asset string) crypto.Address {
	return crypto.ModuleAddress("market/" + NormalizeAsset(asset))
}

func (l *Ledger) emit(evt *events.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) ready() error {
	if l == nil || l.store == nil {
		return errNilState
	}
	if l.bank == nil {
		return errNilBank
	}
	return nil
}

// getMarket loads and default-fills a listed market.
func (l *Ledger) getMarket(asset string) (*Market, error) {
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return nil, errInvalidAsset
	}
	m, err := l.store.GetMarket(normalized)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMarketNotListed
	}
	m.ensureDefaults()
	return m, nil
}

func (l *Ledger) getPosition(asset string, owner crypto.Address) (*Position, error) {
	pos, err := l.store.GetPosition(asset, owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{}
	}
	pos.ensureDefaults()
	return pos, nil
}

func (l *Ledger) modelFor(m *Market) (RateModel, error) {
	model, ok := l.models[m.RateModel]
	if !ok || model == nil {
		return nil, errRateModelUnknown
	}
	return model, nil
}

func (l *Ledger) vaultFor(m *Market) (YieldVault, bool, error) {
	if m.Vault == "" {
		return nil, false, nil
	}
	vault, ok := l.vaults[m.Vault]
	if !ok || vault == nil {
		return nil, false, errVaultUnknown
	}
	return vault, true, nil
}

// cash reads the market's spendable underlying balance: the vault view
// when a vault is configured, the direct custody balance otherwise.
func (l *Ledger) cash(m *Market) (*uint256.Int, error) {
	vault, ok, err := l.vaultFor(m)
	if err != nil {
		return nil, err
	}
	if ok {
		return vault.BalanceOfUnderlying(m.Asset)
	}
	return l.bank.Balance(m.Asset, CustodyAddress(m.Asset))
}

// verifyFresh gates balance mutations on accrual having run in this same
// transition at the current clock reading.
func (l *Ledger) verifyFresh(m *Market) error {
	if m.AccrualTime != l.now() {
		return ErrMarketNotFresh
	}
	return nil
}

// enter engages a market's local reentrancy guard. The returned release
// must run at exit; a second enter while held fails ErrReentered.
func (l *Ledger) enter(asset string) (func(), error) {
	if l.entered[asset] {
		return nil, ErrReentered
	}
	l.entered[asset] = true
	return func() { delete(l.entered, asset) }, nil
}

// enterCross engages both markets' local guards plus the risk engine's
// global guard, in a fixed order so the joint lock is all-or-nothing.
// Same-market calls must use enter instead.
func (l *Ledger) enterCross(debtAsset, collateralAsset string) (func(), error) {
	releaseDebt, err := l.enter(debtAsset)
	if err != nil {
		return nil, err
	}
	releaseCollateral, err := l.enter(collateralAsset)
	if err != nil {
		releaseDebt()
		return nil, err
	}
	if l.risk != nil {
		if err := l.risk.BeforeNonReentrant(); err != nil {
			releaseCollateral()
			releaseDebt()
			return nil, policyReject(err)
		}
	}
	return func() {
		if l.risk != nil {
			l.risk.AfterNonReentrant()
		}
		releaseCollateral()
		releaseDebt()
	}, nil
}

// guard runs the shared preamble for mutating operations: module pause
// check then readiness.
func (l *Ledger) guard() error {
	if err := l.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(l.pauses, moduleName)
}
