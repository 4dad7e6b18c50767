package memory

import (
	"context"
	"sync"

	"github.com/robertarktes/showtime-reservations/internal/domain"
)

type WalletEntry struct {
	UserID    string
	Amount    float64
	Memo      string
	Reference string
}

type Wallets struct {
	mu       sync.Mutex
	balances map[string]float64
	applied  map[string]bool
	entries  []WalletEntry
}

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[string]float64), applied: make(map[string]bool)}
}

func (w *Wallets) Fund(userID string, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = domain.RoundMoney(w.balances[userID] + amount)
}

func (w *Wallets) Balance(userID string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

func (w *Wallets) Entries() []WalletEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WalletEntry(nil), w.entries...)
}

func (w *Wallets) CheckBalance(ctx context.Context, userID string, amount float64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID] >= amount, nil
}

func (w *Wallets) Debit(ctx context.Context, userID string, amount float64, memo, reference string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if reference != "" && w.applied[reference] {
		return nil
	}
	if w.balances[userID] < amount {
		return domain.ErrInsufficientBalance
	}
	w.balances[userID] = domain.RoundMoney(w.balances[userID] - amount)
	w.record(userID, -amount, memo, reference)
	return nil
}

func (w *Wallets) Credit(ctx context.Context, userID string, amount float64, memo, reference string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if reference != "" && w.applied[reference] {
		return nil
	}
	w.balances[userID] = domain.RoundMoney(w.balances[userID] + amount)
	w.record(userID, amount, memo, reference)
	return nil
}

func (w *Wallets) record(userID string, amount float64, memo, reference string) {
	if reference != "" {
		w.applied[reference] = true
	}
	w.entries = append(w.entries, WalletEntry{UserID: userID, Amount: amount, Memo: memo, Reference: reference})
}
