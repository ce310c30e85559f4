package ledger

import (
	"reflect"

	"github.com/pakloong/iroha/pkg/schema"
)

// Command is a single state-mutating instruction within a transaction.
//
// Participants and AssetRef drive the block index: the transaction creator is
// always involved, Participants lists the other accounts a command touches, and
// AssetRef names the asset it moves or defines.
type Command interface {
	Kind() schema.Kind
	Participants() []AccountID
	AssetRef() (AssetID, bool)
}

var commandTypes = map[schema.Kind]reflect.Type{
	schema.AddAssetQuantity:      reflect.TypeFor[AddAssetQuantity](),
	schema.AddPeer:               reflect.TypeFor[AddPeer](),
	schema.AddSignatory:          reflect.TypeFor[AddSignatory](),
	schema.AppendRole:            reflect.TypeFor[AppendRole](),
	schema.CreateAccount:         reflect.TypeFor[CreateAccount](),
	schema.CreateAsset:           reflect.TypeFor[CreateAsset](),
	schema.CreateDomain:          reflect.TypeFor[CreateDomain](),
	schema.CreateRole:            reflect.TypeFor[CreateRole](),
	schema.DetachRole:            reflect.TypeFor[DetachRole](),
	schema.GrantPermission:       reflect.TypeFor[GrantPermission](),
	schema.RemoveSignatory:       reflect.TypeFor[RemoveSignatory](),
	schema.RevokePermission:      reflect.TypeFor[RevokePermission](),
	schema.SetAccountDetail:      reflect.TypeFor[SetAccountDetail](),
	schema.SetQuorum:             reflect.TypeFor[SetQuorum](),
	schema.SubtractAssetQuantity: reflect.TypeFor[SubtractAssetQuantity](),
	schema.TransferAsset:         reflect.TypeFor[TransferAsset](),
	schema.TransferAccount:       reflect.TypeFor[TransferAccount](),
}

// CommandType returns the Go struct type that carries a command kind.
func CommandType(kind schema.Kind) (reflect.Type, bool) {
	t, ok := commandTypes[kind]
	return t, ok
}
