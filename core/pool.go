// Package core orchestrates the capital structure engine: it stages every
// operation against the state manager, runs the pure tranche, cover,
// waterfall, and epoch computations, and commits the results atomically
// together with their events.
package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"capstack/core/events"
	"capstack/core/state"
	"capstack/cover"
	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
	"capstack/vault"
)

var (
	ErrInvalidAmount     = errors.New("pool: amount must be positive")
	ErrNoLiquidity       = errors.New("pool: no liquidity available for settlement")
	ErrSeniorCapExceeded = errors.New("pool: senior deposit exceeds leverage ratio")
	ErrRatioRequired     = errors.New("pool: max senior junior ratio required")
)

// Module accounts. The reserve holds deposited and earned cash, the escrow
// holds cash earmarked for settled redemptions, and the fee account collects
// the protocol's cut of distributed profit.
var (
	reserveAccount = crypto.ModuleAddress("pool/reserve")
	escrowAccount  = crypto.ModuleAddress("vault/escrow")
	feeAccount     = crypto.ModuleAddress("pool/fees")
)

// Config carries the pool parameters fixed at construction.
type Config struct {
	PolicyKind              tranche.PolicyKind
	PolicyRateBps           uint64
	FlexWindow              uint64
	MaxSeniorJuniorRatioBps uint64
	ProfitFeeBps            uint64
	Covers                  []cover.Cover
}

// HistoryRecorder receives committed operations for long term storage. Calls
// happen after commit and must not block the caller for long.
type HistoryRecorder interface {
	RecordEvent(rec events.Record)
	RecordSnapshot(snap Snapshot)
}

// NoopHistory discards everything.
type NoopHistory struct{}

func (NoopHistory) RecordEvent(events.Record) {}

func (NoopHistory) RecordSnapshot(Snapshot) {}

// Pool serialises all reads and writes behind one mutex. Mutating operations
// stage their writes on the state manager and either commit everything,
// events included, or discard everything.
type Pool struct {
	mu      sync.Mutex
	state   *state.Manager
	ledger  *vault.Ledger
	policy  tranche.Policy
	fees    FeeCollector
	hub     *events.Hub
	history HistoryRecorder
	nowFn   func() time.Time

	flexWindow uint64
	ratioBps   uint64

	pending []events.Record
}

// NewPool wires a pool over the state manager and seeds the cover schedule
// on first boot. Persisted covers win over the configured ones afterwards.
func NewPool(mgr *state.Manager, cfg Config) (*Pool, error) {
	if mgr == nil {
		return nil, errors.New("pool: state manager required")
	}
	if cfg.MaxSeniorJuniorRatioBps == 0 {
		return nil, ErrRatioRequired
	}
	policy, err := tranche.NewPolicy(cfg.PolicyKind, cfg.PolicyRateBps)
	if err != nil {
		return nil, err
	}
	fees, err := NewBasisPointFeeCollector(cfg.ProfitFeeBps)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		state:      mgr,
		ledger:     vault.NewLedger(mgr, mgr, escrowAccount),
		policy:     policy,
		fees:       fees,
		history:    NoopHistory{},
		nowFn:      time.Now,
		flexWindow: cfg.FlexWindow,
		ratioBps:   cfg.MaxSeniorJuniorRatioBps,
	}
	if err := p.seed(cfg.Covers); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) seed(covers []cover.Cover) error {
	done, err := p.state.Initialized()
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	for i := range covers {
		if err := covers[i].Validate(); err != nil {
			return err
		}
	}
	if err := p.state.SetCovers(cover.CloneAll(covers)); err != nil {
		return err
	}
	if err := p.state.SetCurrentEpoch(1); err != nil {
		return err
	}
	return p.state.SetInitialized()
}

// SetHub wires the live event fanout. Passing nil disables publishing.
func (p *Pool) SetHub(hub *events.Hub) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hub = hub
}

// SetHistory wires the long term operation recorder. Passing nil resets to
// the no-op recorder.
func (p *Pool) SetHistory(rec HistoryRecorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec == nil {
		p.history = NoopHistory{}
		return
	}
	p.history = rec
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (p *Pool) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now == nil {
		p.nowFn = time.Now
		return
	}
	p.nowFn = now
}

// ReserveAccount returns the address holding undeployed pool cash.
func (p *Pool) ReserveAccount() crypto.Address { return reserveAccount }

// EscrowAccount returns the address holding cash owed to settled redemptions.
func (p *Pool) EscrowAccount() crypto.Address { return escrowAccount }

// FeeAccount returns the address collecting protocol profit fees.
func (p *Pool) FeeAccount() crypto.Address { return feeAccount }

// record appends the event to the persisted log inside the current staging
// and queues it for post-commit publication.
func (p *Pool) record(ev events.Recordable) error {
	rec, err := p.state.AppendEvent(ev.Record())
	if err != nil {
		return err
	}
	p.pending = append(p.pending, rec)
	return nil
}

// flush publishes the staged events after a successful commit and hands the
// post-operation snapshot to the history recorder.
func (p *Pool) flush() {
	for _, rec := range p.pending {
		if p.hub != nil {
			p.hub.Publish(rec)
		}
		p.history.RecordEvent(rec)
	}
	p.pending = p.pending[:0]
	if snap, err := p.snapshotLocked(); err == nil {
		p.history.RecordSnapshot(*snap)
	}
}

// begin opens staging and clears any queued events from a failed run.
func (p *Pool) begin() error {
	p.pending = p.pending[:0]
	return p.state.Begin()
}

// sharePrice returns the ray-scaled price of one tranche share. An empty
// share book prices at one, a wiped-out tranche with outstanding shares
// prices at zero.
func (p *Pool) sharePrice(t tranche.Tranche, assets tranche.Assets) (*big.Int, error) {
	supply, err := p.state.TotalSupply(t)
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return new(big.Int).Set(epoch.Ray), nil
	}
	price := new(big.Int).Mul(assets.Of(t), epoch.Ray)
	return price.Quo(price, supply), nil
}

func checkAssetBounds(assets tranche.Assets, covers []cover.Cover) error {
	if !tranche.FitsAmount(assets.Senior) || !tranche.FitsAmount(assets.Junior) {
		return tranche.ErrAmountOverflow
	}
	for i := range covers {
		if !tranche.FitsAmount(covers[i].Assets) {
			return tranche.ErrAmountOverflow
		}
	}
	return nil
}

func sumAmounts(values []*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// coverBreakdown names each nonzero per-cover amount for event attribution.
func coverBreakdown(covers []cover.Cover, amounts []*big.Int) map[string]string {
	var out map[string]string
	for i, amount := range amounts {
		if amount == nil || amount.Sign() == 0 || i >= len(covers) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[covers[i].Name] = amount.String()
	}
	return out
}

// Snapshot is a consistent read of the whole pool ledger.
type Snapshot struct {
	Assets            tranche.Assets
	Losses            tranche.Losses
	Covers            []cover.Cover
	Tracker           *tranche.SeniorYieldTracker
	CurrentEpoch      uint64
	ReservationTarget *big.Int
	SeniorSupply      *big.Int
	JuniorSupply      *big.Int
	ReserveBalance    *big.Int
	EscrowBalance     *big.Int
}

// Snapshot returns a consistent view of the pool under the operation mutex.
func (p *Pool) Snapshot() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() (*Snapshot, error) {
	assets, err := p.state.TrancheAssets()
	if err != nil {
		return nil, fmt.Errorf("pool: load assets: %w", err)
	}
	losses, err := p.state.TrancheLosses()
	if err != nil {
		return nil, fmt.Errorf("pool: load losses: %w", err)
	}
	covers, err := p.state.Covers()
	if err != nil {
		return nil, fmt.Errorf("pool: load covers: %w", err)
	}
	tracker, err := p.state.YieldTracker()
	if err != nil {
		return nil, fmt.Errorf("pool: load yield tracker: %w", err)
	}
	current, err := p.state.CurrentEpoch()
	if err != nil {
		return nil, fmt.Errorf("pool: load current epoch: %w", err)
	}
	target, err := p.state.ReservationTarget()
	if err != nil {
		return nil, fmt.Errorf("pool: load reservation target: %w", err)
	}
	seniorSupply, err := p.state.TotalSupply(tranche.Senior)
	if err != nil {
		return nil, err
	}
	juniorSupply, err := p.state.TotalSupply(tranche.Junior)
	if err != nil {
		return nil, err
	}
	reserve, err := p.state.Balance(reserveAccount)
	if err != nil {
		return nil, err
	}
	escrow, err := p.state.Balance(escrowAccount)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Assets:            assets,
		Losses:            losses,
		Covers:            covers,
		Tracker:           tracker,
		CurrentEpoch:      current,
		ReservationTarget: target,
		SeniorSupply:      seniorSupply,
		JuniorSupply:      juniorSupply,
		ReserveBalance:    reserve,
		EscrowBalance:     escrow,
	}, nil
}
