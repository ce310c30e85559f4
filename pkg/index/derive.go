package index

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pakloong/iroha/pkg/ledger"
)

// Position is one AccountAssetPositionIndex entry. Ordinal is the entry's rank
// within its key; backends store entries so that reading them back by ordinal
// reproduces derivation order.
type Position struct {
	Key        AccountAssetKey
	Ordinal    int
	TxPosition int
}

// Records is everything a block contributes to the index, in write order.
type Records struct {
	Height    uint64
	Accounts  []ledger.AccountID
	Positions []Position
}

// Derive computes the index records of a block without touching storage.
//
// Each transaction creator joins the account height index. Every command
// involves the creator plus its participants; when the command references an
// asset, each involved account gets one position entry for the transaction.
func Derive(block ledger.Block) (Records, error) {
	if block.Height < 1 {
		return Records{}, ErrInvalidHeight
	}

	r := Records{Height: block.Height}
	seen := make(map[ledger.AccountID]bool)
	ordinals := make(map[AccountAssetKey]int)
	addAccount := func(acc ledger.AccountID) {
		if !seen[acc] {
			seen[acc] = true
			r.Accounts = append(r.Accounts, acc)
		}
	}

	for i, tx := range block.Transactions {
		if err := checkIdentifier("creator account", string(tx.CreatorAccountID), i); err != nil {
			return Records{}, err
		}
		addAccount(tx.CreatorAccountID)

		for _, cmd := range tx.Commands {
			if cmd == nil {
				return Records{}, fmt.Errorf("transaction %d: %w", i, ErrNilCommand)
			}
			involved := []ledger.AccountID{tx.CreatorAccountID}
			for _, p := range cmd.Participants() {
				if err := checkIdentifier("account", string(p), i); err != nil {
					return Records{}, err
				}
				if !slices.Contains(involved, p) {
					involved = append(involved, p)
				}
			}
			for _, acc := range involved {
				addAccount(acc)
			}

			asset, ok := cmd.AssetRef()
			if !ok {
				continue
			}
			if err := checkIdentifier("asset", string(asset), i); err != nil {
				return Records{}, err
			}
			for _, acc := range involved {
				key := AccountAssetKey{Account: acc, Height: block.Height, Asset: asset}
				r.Positions = append(r.Positions, Position{Key: key, Ordinal: ordinals[key], TxPosition: i})
				ordinals[key]++
			}
		}
	}
	return r, nil
}

func checkIdentifier(field, value string, txPos int) error {
	if value == "" || strings.Contains(value, Delimiter) {
		return &InvalidIdentifierError{Field: field, Value: value, TxPosition: txPos}
	}
	return nil
}
