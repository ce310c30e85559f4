package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pakloong/iroha/pkg/ledger"
)

// Delimiter joins the parts of an AccountAssetKey. Identifiers may not contain it.
const Delimiter = ":"

// AccountAssetKey addresses one AccountAssetPositionIndex entry list.
type AccountAssetKey struct {
	Account ledger.AccountID
	Height  uint64
	Asset   ledger.AssetID
}

// String encodes the key as account:height:asset with a decimal height.
func (k AccountAssetKey) String() string {
	return string(k.Account) + Delimiter + strconv.FormatUint(k.Height, 10) + Delimiter + string(k.Asset)
}

// ParseAccountAssetKey is the inverse of AccountAssetKey.String.
func ParseAccountAssetKey(s string) (AccountAssetKey, error) {
	parts := strings.Split(s, Delimiter)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return AccountAssetKey{}, fmt.Errorf("invalid account asset key %q", s)
	}
	if len(parts[1]) > 1 && parts[1][0] == '0' {
		return AccountAssetKey{}, fmt.Errorf("invalid account asset key %q: leading zero in height", s)
	}
	height, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return AccountAssetKey{}, fmt.Errorf("invalid account asset key %q: %w", s, err)
	}
	return AccountAssetKey{
		Account: ledger.AccountID(parts[0]),
		Height:  height,
		Asset:   ledger.AssetID(parts[2]),
	}, nil
}
