// Package ledger holds the immutable domain values produced by the builders:
// commands, transactions, blocks and the account and asset references they carry.
//
// Values are plain structs. They are assembled by package builder, which copies
// every slice it is handed, and must be treated as read-only once built.
package ledger

import (
	"slices"
	"time"
)

// Account is the account object carried by TransferAccount.
type Account struct {
	AccountID AccountID `field:"accountId"`
	DomainID  DomainID  `field:"domainId"`
	Quorum    uint32    `field:"quorum"`
}

// Peer is a network peer registered by AddPeer.
type Peer struct {
	Address   string    `field:"address"`
	PublicKey PublicKey `field:"publicKey"`
}

// Transaction is an ordered sequence of commands submitted by one creator.
type Transaction struct {
	CreatorAccountID AccountID `field:"creatorAccountId"`
	CreatedTime      time.Time `field:"createdTime"`
	Quorum           uint32    `field:"quorum"`
	Commands         []Command `field:"commands"`

	Signatures []Signature
}

// WithSignatures returns a copy of tx carrying sigs after any existing signatures.
func (tx Transaction) WithSignatures(sigs ...Signature) Transaction {
	tx.Signatures = append(slices.Clone(tx.Signatures), sigs...)
	return tx
}

// Block is an ordered batch of committed transactions.
type Block struct {
	Height        uint64        `field:"height"`
	PrevBlockHash Hash          `field:"prevBlockHash"`
	CreatedTime   time.Time     `field:"createdTime"`
	Transactions  []Transaction `field:"transactions"`

	Signatures []Signature
}

// WithSignatures returns a copy of b carrying sigs after any existing signatures.
func (b Block) WithSignatures(sigs ...Signature) Block {
	b.Signatures = append(slices.Clone(b.Signatures), sigs...)
	return b
}

// TxCount is the number of transactions in the block.
func (b Block) TxCount() int { return len(b.Transactions) }
