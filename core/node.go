// Package core hosts the node: the single controller that owns the
// database, the state manager, the market ledger, and the event bus, and
// that turns ledger calls into atomic, observable state transitions.
package core

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"alcove/core/events"
	"alcove/core/state"
	"alcove/crypto"
	"alcove/native/market"
	"alcove/native/risk"
	"alcove/observability"
	"alcove/storage"
)

var errNilDatabase = errors.New("core: database required")

// Config carries the node-level knobs.
type Config struct {
	// EventBuffer sizes each bus subscriber's channel. Zero selects the
	// bus default.
	EventBuffer int
	// Logger receives transition logs. Nil falls back to slog.Default.
	Logger *slog.Logger
}

// Node serialises every ledger access under one mutex and gives each
// transition a frozen clock, an all-or-nothing state overlay, and event
// publication only after the overlay commits.
type Node struct {
	db     storage.Database
	state  *state.Manager
	ledger *market.Ledger
	gate   *risk.Gate
	bus    *events.Bus
	log    *slog.Logger

	stateMu sync.Mutex
	nowFn   func() uint64
	frozen  uint64
	buffer  []*events.Event
}

// NewNode opens the state manager on db, migrates stored records to the
// current schema, and wires a ledger to it.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	manager := state.NewManager(db)
	if err := manager.Migrate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		db:     db,
		state:  manager,
		bus:    events.NewBus(cfg.EventBuffer),
		log:    logger,
		nowFn:  func() uint64 { return uint64(time.Now().Unix()) },
		ledger: market.NewLedger(manager, manager),
	}
	n.ledger.SetEmitter(transitionEmitter{n})
	n.ledger.SetNowFunc(func() uint64 { return n.frozen })
	return n, nil
}

// transitionEmitter buffers ledger events until the transition commits.
type transitionEmitter struct {
	n *Node
}

func (e transitionEmitter) Emit(evt *events.Event) {
	if evt == nil {
		return
	}
	e.n.buffer = append(e.n.buffer, evt)
}

// SetGate wires the risk gate to the ledger in both directions: the
// ledger consults the gate for policy, the gate reads the ledger for
// liquidation math.
func (n *Node) SetGate(gate *risk.Gate) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.gate = gate
	n.ledger.SetRiskEngine(gate)
	if gate != nil {
		gate.SetLedger(n.ledger)
	}
}

// Gate returns the wired risk gate, nil when none is set.
func (n *Node) Gate() *risk.Gate {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.gate
}

// Bus exposes the event bus for streaming subscribers.
func (n *Node) Bus() *events.Bus {
	return n.bus
}

// SetNowFunc overrides the wall clock. Tests use it to pin transition
// timestamps.
func (n *Node) SetNowFunc(now func() uint64) {
	if now == nil {
		return
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.nowFn = now
}

// Configure runs fn against the ledger for wiring-time setup (admin
// addresses, rate models, vaults, fee registry) before the node serves.
// No state is committed.
func (n *Node) Configure(fn func(*market.Ledger)) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	fn(n.ledger)
}

// Update applies one mutating transition. The ledger sees a clock frozen
// for the whole call, writes stage in the state overlay, and events
// buffer in memory. On success the overlay commits atomically and the
// events publish to the bus; on any error both are dropped whole. The
// op and asset labels feed metrics and logs.
func (n *Node) Update(op, asset string, fn func(*market.Ledger) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	n.frozen = n.nowFn()
	n.buffer = n.buffer[:0]

	err := fn(n.ledger)
	if err == nil {
		err = n.state.Commit()
	}
	if err != nil {
		n.state.Discard()
		n.buffer = n.buffer[:0]
	} else {
		for _, evt := range n.buffer {
			n.bus.Emit(evt)
			observability.Events().RecordPublished(evt.Type)
		}
		n.buffer = n.buffer[:0]
		n.recordMarketGauges(asset)
	}

	duration := time.Since(start)
	observability.Ledger().Observe(op, asset, duration, err)
	if err != nil {
		n.log.Warn("transition rejected",
			"op", op, "asset", asset, "error", err, "duration", duration)
	} else {
		n.log.Debug("transition committed",
			"op", op, "asset", asset, "duration", duration)
	}
	return err
}

// View runs fn against the ledger for reads and previews. The clock is
// frozen exactly as in Update so previews match what execution at this
// instant would do. Any writes fn stages are discarded.
func (n *Node) View(fn func(*market.Ledger) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.frozen = n.nowFn()
	n.buffer = n.buffer[:0]
	err := fn(n.ledger)
	n.state.Discard()
	n.buffer = n.buffer[:0]
	return err
}

// Fund credits an account's underlying balance outside the market flows
// and commits immediately. Genesis seeding and operator faucets only.
func (n *Node) Fund(asset string, addr crypto.Address, amount *uint256.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if err := n.state.Credit(asset, addr, amount); err != nil {
		n.state.Discard()
		return err
	}
	return n.state.Commit()
}

// Balance reads an account's underlying holdings.
func (n *Node) Balance(asset string, addr crypto.Address) (*uint256.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Balance(asset, addr)
}

// recordMarketGauges refreshes dashboard gauges from stored figures.
// Callers hold stateMu.
func (n *Node) recordMarketGauges(asset string) {
	if asset == "" {
		return
	}
	m, err := n.state.GetMarket(asset)
	if err != nil || m == nil {
		return
	}
	rate, err := n.ledger.ExchangeRateStored(asset)
	if err != nil {
		return
	}
	observability.Ledger().RecordMarket(asset, rate, m.BorrowIndex, m.TotalBorrows)
}

// Close releases the database.
func (n *Node) Close() error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.db.Close()
}
