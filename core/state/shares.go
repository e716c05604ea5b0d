package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"capstack/crypto"
	"capstack/storage"
	"capstack/tranche"
)

// Tranche share book. Shares follow the same width bound as amounts: any
// mint or transfer that would push a balance or the supply past the ledger
// width fails with tranche.ErrAmountOverflow.

func (m *Manager) loadAmount(key string) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		if err == storage.ErrNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, fmt.Errorf("state: decode amount %q: %w", key, err)
	}
	return amount, nil
}

func (m *Manager) writeAmount(key string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return m.del(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state: encode amount %q: %w", key, err)
	}
	return m.put(key, encoded)
}

// TotalSupply returns the outstanding share supply for the tranche.
func (m *Manager) TotalSupply(t tranche.Tranche) (*big.Int, error) {
	return m.loadAmount(shareSupplyKey(t))
}

// BalanceOf returns the share balance held by the address.
func (m *Manager) BalanceOf(t tranche.Tranche, addr crypto.Address) (*big.Int, error) {
	return m.loadAmount(shareBalanceKey(t, addr))
}

// Transfer moves shares between addresses.
func (m *Manager) Transfer(t tranche.Tranche, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid share transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := m.BalanceOf(t, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	toBal, err := m.BalanceOf(t, to)
	if err != nil {
		return err
	}
	toBal = new(big.Int).Add(toBal, amount)
	if !tranche.FitsAmount(toBal) {
		return tranche.ErrAmountOverflow
	}
	if err := m.writeAmount(shareBalanceKey(t, from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.writeAmount(shareBalanceKey(t, to), toBal)
}

// Mint creates shares for the address and grows the supply.
func (m *Manager) Mint(t tranche.Tranche, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid share mint amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	supply, err := m.TotalSupply(t)
	if err != nil {
		return err
	}
	supply = new(big.Int).Add(supply, amount)
	if !tranche.FitsAmount(supply) {
		return tranche.ErrAmountOverflow
	}
	balance, err := m.BalanceOf(t, to)
	if err != nil {
		return err
	}
	balance = new(big.Int).Add(balance, amount)
	if !tranche.FitsAmount(balance) {
		return tranche.ErrAmountOverflow
	}
	if err := m.writeAmount(shareSupplyKey(t), supply); err != nil {
		return err
	}
	return m.writeAmount(shareBalanceKey(t, to), balance)
}

// Burn destroys shares held by the address and shrinks the supply.
func (m *Manager) Burn(t tranche.Tranche, from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid share burn amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := m.BalanceOf(t, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	supply, err := m.TotalSupply(t)
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("state: share supply underflow")
	}
	if err := m.writeAmount(shareBalanceKey(t, from), new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return m.writeAmount(shareSupplyKey(t), new(big.Int).Sub(supply, amount))
}

// Fund accounts. Deposits, settlement escrow moves, and disbursements all
// run through these balances so the cash side of the ledger stays conserved.

// Balance returns the fund balance held by the address.
func (m *Manager) Balance(addr crypto.Address) (*big.Int, error) {
	return m.loadAmount(accountKey(addr))
}

// Credit adds funds to the address.
func (m *Manager) Credit(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid credit amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := m.Balance(addr)
	if err != nil {
		return err
	}
	balance = new(big.Int).Add(balance, amount)
	if !tranche.FitsAmount(balance) {
		return tranche.ErrAmountOverflow
	}
	return m.writeAmount(accountKey(addr), balance)
}

// Debit removes funds from the address.
func (m *Manager) Debit(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid debit amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := m.Balance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	return m.writeAmount(accountKey(addr), new(big.Int).Sub(balance, amount))
}

// MoveFunds debits one account and credits another.
func (m *Manager) MoveFunds(from, to crypto.Address, amount *big.Int) error {
	if err := m.Debit(from, amount); err != nil {
		return err
	}
	return m.Credit(to, amount)
}
