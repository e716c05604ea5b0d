package vault

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
)

type mockState struct {
	epochs  map[string]*epoch.Info
	pending map[tranche.Tranche][]uint64
	lenders map[string]*LenderRecord
}

func newMockState() *mockState {
	return &mockState{
		epochs:  make(map[string]*epoch.Info),
		pending: make(map[tranche.Tranche][]uint64),
		lenders: make(map[string]*LenderRecord),
	}
}

func epochKey(t tranche.Tranche, id uint64) string {
	return fmt.Sprintf("%s/%d", t, id)
}

func lenderKey(t tranche.Tranche, lender crypto.Address) string {
	return fmt.Sprintf("%s/%s", t, lender.String())
}

func (m *mockState) RedemptionEpoch(t tranche.Tranche, id uint64) (*epoch.Info, error) {
	info, ok := m.epochs[epochKey(t, id)]
	if !ok {
		return nil, nil
	}
	return info.Clone(), nil
}

func (m *mockState) PutRedemptionEpoch(t tranche.Tranche, info *epoch.Info) error {
	m.epochs[epochKey(t, info.ID)] = info.Clone()
	return nil
}

func (m *mockState) DeleteRedemptionEpoch(t tranche.Tranche, id uint64) error {
	delete(m.epochs, epochKey(t, id))
	return nil
}

func (m *mockState) PendingEpochIDs(t tranche.Tranche) ([]uint64, error) {
	return append([]uint64(nil), m.pending[t]...), nil
}

func (m *mockState) SetPendingEpochIDs(t tranche.Tranche, ids []uint64) error {
	m.pending[t] = append([]uint64(nil), ids...)
	return nil
}

func (m *mockState) LenderRecord(t tranche.Tranche, lender crypto.Address) (*LenderRecord, error) {
	rec, ok := m.lenders[lenderKey(t, lender)]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *mockState) PutLenderRecord(t tranche.Tranche, lender crypto.Address, rec *LenderRecord) error {
	m.lenders[lenderKey(t, lender)] = rec.Clone()
	return nil
}

type mockShares struct {
	balances map[string]*big.Int
	supply   map[tranche.Tranche]*big.Int
}

func newMockShares() *mockShares {
	return &mockShares{
		balances: make(map[string]*big.Int),
		supply:   make(map[tranche.Tranche]*big.Int),
	}
}

func (m *mockShares) balance(t tranche.Tranche, addr crypto.Address) *big.Int {
	if b, ok := m.balances[lenderKey(t, addr)]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockShares) TotalSupply(t tranche.Tranche) (*big.Int, error) {
	if s, ok := m.supply[t]; ok {
		return new(big.Int).Set(s), nil
	}
	return big.NewInt(0), nil
}

func (m *mockShares) BalanceOf(t tranche.Tranche, addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(m.balance(t, addr)), nil
}

func (m *mockShares) Transfer(t tranche.Tranche, from, to crypto.Address, amount *big.Int) error {
	fromBal := m.balance(t, from)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("mock shares: insufficient balance")
	}
	m.balances[lenderKey(t, from)] = new(big.Int).Sub(fromBal, amount)
	m.balances[lenderKey(t, to)] = new(big.Int).Add(m.balance(t, to), amount)
	return nil
}

func (m *mockShares) Mint(t tranche.Tranche, to crypto.Address, amount *big.Int) error {
	m.balances[lenderKey(t, to)] = new(big.Int).Add(m.balance(t, to), amount)
	sup, _ := m.TotalSupply(t)
	m.supply[t] = sup.Add(sup, amount)
	return nil
}

func (m *mockShares) Burn(t tranche.Tranche, from crypto.Address, amount *big.Int) error {
	bal := m.balance(t, from)
	if bal.Cmp(amount) < 0 {
		return errors.New("mock shares: burn exceeds balance")
	}
	m.balances[lenderKey(t, from)] = new(big.Int).Sub(bal, amount)
	sup, _ := m.TotalSupply(t)
	m.supply[t] = sup.Sub(sup, amount)
	return nil
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.CapPrefix, buf)
}

func newTestLedger(t *testing.T) (*Ledger, *mockState, *mockShares) {
	t.Helper()
	state := newMockState()
	shares := newMockShares()
	escrow := crypto.ModuleAddress("vault/escrow")
	return NewLedger(state, shares, escrow), state, shares
}

func seedShares(t *testing.T, shares *mockShares, tr tranche.Tranche, addr crypto.Address, amount int64) {
	t.Helper()
	if err := shares.Mint(tr, addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func TestAddRedemptionRequestEscrowsShares(t *testing.T) {
	ledger, state, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Senior, lender, 1000)

	info, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(400), 3)
	if err != nil {
		t.Fatalf("add request: %v", err)
	}
	if info.SharesRequested.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("epoch demand wrong: %s", info.SharesRequested)
	}
	if bal := shares.balance(tranche.Senior, lender); bal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("lender balance after escrow: %s", bal)
	}
	if bal := shares.balance(tranche.Senior, ledger.Escrow()); bal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("escrow balance: %s", bal)
	}
	ids, _ := state.PendingEpochIDs(tranche.Senior)
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("pending ids: %v", ids)
	}
}

func TestAddRedemptionRequestMergesCurrentEpoch(t *testing.T) {
	ledger, state, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Senior, lender, 1000)

	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(100), 3); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(50), 3); err != nil {
		t.Fatalf("second request: %v", err)
	}
	rec, _ := state.LenderRecord(tranche.Senior, lender)
	if len(rec.Requests) != 1 {
		t.Fatalf("same-epoch requests must merge, got %d entries", len(rec.Requests))
	}
	if rec.Requests[0].Shares.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("merged shares: %s", rec.Requests[0].Shares)
	}

	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(25), 4); err != nil {
		t.Fatalf("new epoch request: %v", err)
	}
	rec, _ = state.LenderRecord(tranche.Senior, lender)
	if len(rec.Requests) != 2 || rec.Requests[1].EpochID != 4 {
		t.Fatalf("new epoch should append: %+v", rec.Requests)
	}
}

func TestAddRedemptionRequestInsufficientShares(t *testing.T) {
	ledger, _, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Senior, lender, 10)
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(11), 1); err == nil {
		t.Fatalf("expected escrow failure")
	}
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(0), 1); !errors.Is(err, ErrInvalidShares) {
		t.Fatalf("expected ErrInvalidShares, got %v", err)
	}
}

func TestCancelRedemptionRequest(t *testing.T) {
	ledger, state, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Junior, lender, 500)

	if _, err := ledger.AddRedemptionRequest(tranche.Junior, lender, big.NewInt(300), 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ledger.CancelRedemptionRequest(tranche.Junior, lender, big.NewInt(100), 2); err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	rec, _ := state.LenderRecord(tranche.Junior, lender)
	if rec.Requests[0].Shares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("request should shrink to 200, got %s", rec.Requests[0].Shares)
	}
	if bal := shares.balance(tranche.Junior, lender); bal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("lender should get 100 back, balance %s", bal)
	}

	if err := ledger.CancelRedemptionRequest(tranche.Junior, lender, big.NewInt(200), 2); err != nil {
		t.Fatalf("full cancel: %v", err)
	}
	rec, _ = state.LenderRecord(tranche.Junior, lender)
	if len(rec.Requests) != 0 {
		t.Fatalf("request should disappear, got %+v", rec.Requests)
	}
	ids, _ := state.PendingEpochIDs(tranche.Junior)
	if len(ids) != 0 {
		t.Fatalf("empty epoch should leave the pending set, got %v", ids)
	}
	if info, _ := state.RedemptionEpoch(tranche.Junior, 2); info != nil {
		t.Fatalf("empty epoch record should be deleted")
	}
}

func TestCancelGuards(t *testing.T) {
	ledger, _, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Senior, lender, 500)

	if err := ledger.CancelRedemptionRequest(tranche.Senior, lender, big.NewInt(10), 1); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("expected ErrNoRequest, got %v", err)
	}
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(100), 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Epoch advanced: the request is history now.
	if err := ledger.CancelRedemptionRequest(tranche.Senior, lender, big.NewInt(10), 2); !errors.Is(err, ErrCancelNotCurrent) {
		t.Fatalf("expected ErrCancelNotCurrent, got %v", err)
	}
	if err := ledger.CancelRedemptionRequest(tranche.Senior, lender, big.NewInt(101), 1); !errors.Is(err, ErrCancelExceeds) {
		t.Fatalf("expected ErrCancelExceeds, got %v", err)
	}
}

// settleEpoch simulates an epoch close pushing fills into the ledger.
func settleEpoch(t *testing.T, ledger *Ledger, tr tranche.Tranche, id uint64, addShares, addAmount int64) {
	t.Helper()
	info, err := ledger.state.RedemptionEpoch(tr, id)
	if err != nil || info == nil {
		t.Fatalf("load epoch %d: %v", id, err)
	}
	info.SharesProcessed = new(big.Int).Add(info.SharesProcessed, big.NewInt(addShares))
	info.AmountProcessed = new(big.Int).Add(info.AmountProcessed, big.NewInt(addAmount))
	if err := ledger.ApplySettlement(tr, []*epoch.Info{info}, big.NewInt(addShares)); err != nil {
		t.Fatalf("apply settlement: %v", err)
	}
}

func TestProRataWithdrawableAcrossPartialFills(t *testing.T) {
	ledger, _, shares := newTestLedger(t)
	lenderA := testAddr(1)
	lenderB := testAddr(2)
	seedShares(t, shares, tranche.Senior, lenderA, 400)
	seedShares(t, shares, tranche.Senior, lenderB, 600)

	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lenderA, big.NewInt(400), 1); err != nil {
		t.Fatalf("lender A request: %v", err)
	}
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lenderB, big.NewInt(600), 1); err != nil {
		t.Fatalf("lender B request: %v", err)
	}

	// Close at price 2.0 with 1500 liquidity: 750 of 1000 shares, 1500 paid.
	settleEpoch(t, ledger, tranche.Senior, 1, 750, 1500)

	// currentEpoch has advanced to 2; epoch 1 is partially filled.
	wA, err := ledger.Withdrawable(tranche.Senior, lenderA, 2)
	if err != nil {
		t.Fatalf("withdrawable A: %v", err)
	}
	if wA.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("lender A should see 600 (300 shares at 2.0), got %s", wA)
	}

	dis, err := ledger.Disburse(tranche.Senior, lenderA, 2)
	if err != nil {
		t.Fatalf("disburse A: %v", err)
	}
	if dis.Amount.Cmp(big.NewInt(600)) != 0 || dis.Shares.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("disbursement A: amount=%s shares=%s", dis.Amount, dis.Shares)
	}

	// Nothing more until the epoch fills further.
	wA, _ = ledger.Withdrawable(tranche.Senior, lenderA, 2)
	if wA.Sign() != 0 {
		t.Fatalf("lender A already collected, got %s", wA)
	}
	dis, err = ledger.Disburse(tranche.Senior, lenderA, 2)
	if err != nil {
		t.Fatalf("idempotent disburse: %v", err)
	}
	if dis.Amount.Sign() != 0 {
		t.Fatalf("second disburse must pay zero, got %s", dis.Amount)
	}

	// Second close completes the epoch: remaining 250 shares for 500.
	settleEpoch(t, ledger, tranche.Senior, 1, 250, 500)

	wA, _ = ledger.Withdrawable(tranche.Senior, lenderA, 3)
	if wA.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("lender A should see 200 after fulfilment, got %s", wA)
	}
	wB, _ := ledger.Withdrawable(tranche.Senior, lenderB, 3)
	if wB.Cmp(big.NewInt(1200)) != 0 {
		t.Fatalf("lender B should see 1200, got %s", wB)
	}

	disA, err := ledger.Disburse(tranche.Senior, lenderA, 3)
	if err != nil {
		t.Fatalf("disburse A final: %v", err)
	}
	disB, err := ledger.Disburse(tranche.Senior, lenderB, 3)
	if err != nil {
		t.Fatalf("disburse B: %v", err)
	}
	total := new(big.Int).Add(disA.Amount, disB.Amount)
	total.Add(total, big.NewInt(600)) // lender A's first payout
	if total.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("payout conservation broken: %s of 2000", total)
	}
}

func TestApplySettlementBurnsEscrowAndPrunesFulfilled(t *testing.T) {
	ledger, state, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Senior, lender, 100)
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(100), 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	settleEpoch(t, ledger, tranche.Senior, 1, 100, 100)

	if bal := shares.balance(tranche.Senior, ledger.Escrow()); bal.Sign() != 0 {
		t.Fatalf("escrow should be burned empty, got %s", bal)
	}
	sup, _ := shares.TotalSupply(tranche.Senior)
	if sup.Sign() != 0 {
		t.Fatalf("supply should shrink to zero, got %s", sup)
	}
	ids, _ := state.PendingEpochIDs(tranche.Senior)
	if len(ids) != 0 {
		t.Fatalf("fulfilled epoch should leave pending set, got %v", ids)
	}
	// The record itself must survive for reconstruction.
	if info, _ := state.RedemptionEpoch(tranche.Senior, 1); info == nil {
		t.Fatalf("fulfilled epoch record must remain readable")
	}
}

func TestWithdrawableUnknownLenderIsZero(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	w, err := ledger.Withdrawable(tranche.Senior, testAddr(9), 1)
	if err != nil {
		t.Fatalf("withdrawable: %v", err)
	}
	if w.Sign() != 0 {
		t.Fatalf("unknown lender should see zero, got %s", w)
	}
	if _, err := ledger.Disburse(tranche.Senior, testAddr(9), 1); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("expected ErrNoRequest, got %v", err)
	}
}

func TestReconcileSpansMultipleEpochs(t *testing.T) {
	ledger, _, shares := newTestLedger(t)
	lender := testAddr(1)
	seedShares(t, shares, tranche.Senior, lender, 300)

	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(100), 1); err != nil {
		t.Fatalf("epoch1 request: %v", err)
	}
	if _, err := ledger.AddRedemptionRequest(tranche.Senior, lender, big.NewInt(200), 2); err != nil {
		t.Fatalf("epoch2 request: %v", err)
	}
	// Both epochs fill completely at price 1.
	settleEpoch(t, ledger, tranche.Senior, 1, 100, 100)
	settleEpoch(t, ledger, tranche.Senior, 2, 200, 200)

	dis, err := ledger.Disburse(tranche.Senior, lender, 3)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if dis.Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("walk should span both epochs: got %s want 300", dis.Amount)
	}
	status, err := ledger.Status(tranche.Senior, lender, 3)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Cursor.NextIndex != 2 {
		t.Fatalf("cursor should pass both requests, at %d", status.Cursor.NextIndex)
	}
	if status.Withdrawable.Sign() != 0 {
		t.Fatalf("nothing left to withdraw, got %s", status.Withdrawable)
	}
}
