package ledger

import (
	"encoding/hex"
	"strings"
)

// AccountID identifies an account as name@domain.
type AccountID string

// AssetID identifies an asset as name#domain.
type AssetID string

// DomainID identifies a domain.
type DomainID string

// NewAccountID joins an account name and its domain.
func NewAccountID(name string, domain DomainID) AccountID {
	return AccountID(name + "@" + string(domain))
}

// Split returns the name and domain parts; ok is false when the id has no '@'.
func (id AccountID) Split() (name string, domain DomainID, ok bool) {
	n, d, ok := strings.Cut(string(id), "@")
	return n, DomainID(d), ok
}

func (id AccountID) String() string { return string(id) }

// NewAssetID joins an asset name and its domain.
func NewAssetID(name string, domain DomainID) AssetID {
	return AssetID(name + "#" + string(domain))
}

// Split returns the name and domain parts; ok is false when the id has no '#'.
func (id AssetID) Split() (name string, domain DomainID, ok bool) {
	n, d, ok := strings.Cut(string(id), "#")
	return n, DomainID(d), ok
}

func (id AssetID) String() string { return string(id) }

// PublicKey is an opaque signatory key.
type PublicKey []byte

func (k PublicKey) String() string { return hex.EncodeToString(k) }

// Hash is a block identity.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash carried by the first block.
func (h Hash) IsZero() bool { return h == Hash{} }

// Signature is produced by an external signer and carried opaquely.
type Signature struct {
	PublicKey PublicKey
	Signature []byte
}
