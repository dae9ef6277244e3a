package wallet

import (
	"fmt"
)

type walletKey struct {
	mintURL string
	unit    string
}

// MultiMintWallet indexes per-mint wallets by (mint URL, unit).
type MultiMintWallet struct {
	wallets map[walletKey]*Wallet

	// mint URLs in the order wallets were added
	mints []string
}

func NewMultiMintWallet() *MultiMintWallet {
	return &MultiMintWallet{wallets: make(map[walletKey]*Wallet)}
}

func (mm *MultiMintWallet) AddWallet(w *Wallet) {
	key := walletKey{mintURL: w.mintURL, unit: w.unit}
	if _, ok := mm.wallets[key]; !ok {
		mm.mints = append(mm.mints, w.mintURL)
	}
	mm.wallets[key] = w
}

// Get returns the wallet handle for the given mint and unit.
func (mm *MultiMintWallet) Get(mintURL, unit string) (MintWallet, error) {
	w, ok := mm.wallets[walletKey{mintURL: mintURL, unit: unit}]
	if !ok {
		return nil, fmt.Errorf("no wallet for mint %s and unit %s", mintURL, unit)
	}
	return w, nil
}

// Mints returns the supported mint URLs in the order they were added.
func (mm *MultiMintWallet) Mints() []string {
	mints := make([]string, len(mm.mints))
	copy(mints, mm.mints)
	return mints
}
