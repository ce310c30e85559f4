package builder

import (
	"fmt"
	"reflect"

	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/schema"
)

// Of returns a builder of kind that assembles a T. It panics when kind is unknown
// or T does not carry a tagged field for every required field of kind.
func Of[T any](kind schema.Kind) *Builder[T] {
	return newBuilder[T](schema.Lookup(kind), reflect.TypeFor[T]())
}

// NewCommand returns a builder for any command kind.
func NewCommand(kind schema.Kind) *Builder[ledger.Command] {
	def := schema.Lookup(kind)
	if def.Category != schema.CategoryCommand {
		panic(fmt.Sprintf("builder: %s is a %s, not a command", kind, def.Category))
	}
	target, ok := ledger.CommandType(kind)
	if !ok {
		panic(fmt.Sprintf("builder: no ledger type for command %s", kind))
	}
	return newBuilder[ledger.Command](def, target)
}

func AddAssetQuantity() *Builder[ledger.AddAssetQuantity] {
	return Of[ledger.AddAssetQuantity](schema.AddAssetQuantity)
}

func AddPeer() *Builder[ledger.AddPeer] { return Of[ledger.AddPeer](schema.AddPeer) }

func AddSignatory() *Builder[ledger.AddSignatory] {
	return Of[ledger.AddSignatory](schema.AddSignatory)
}

func AppendRole() *Builder[ledger.AppendRole] { return Of[ledger.AppendRole](schema.AppendRole) }

func CreateAccount() *Builder[ledger.CreateAccount] {
	return Of[ledger.CreateAccount](schema.CreateAccount)
}

func CreateAsset() *Builder[ledger.CreateAsset] { return Of[ledger.CreateAsset](schema.CreateAsset) }

func CreateDomain() *Builder[ledger.CreateDomain] {
	return Of[ledger.CreateDomain](schema.CreateDomain)
}

func CreateRole() *Builder[ledger.CreateRole] { return Of[ledger.CreateRole](schema.CreateRole) }

func DetachRole() *Builder[ledger.DetachRole] { return Of[ledger.DetachRole](schema.DetachRole) }

func GrantPermission() *Builder[ledger.GrantPermission] {
	return Of[ledger.GrantPermission](schema.GrantPermission)
}

func RemoveSignatory() *Builder[ledger.RemoveSignatory] {
	return Of[ledger.RemoveSignatory](schema.RemoveSignatory)
}

func RevokePermission() *Builder[ledger.RevokePermission] {
	return Of[ledger.RevokePermission](schema.RevokePermission)
}

func SetAccountDetail() *Builder[ledger.SetAccountDetail] {
	return Of[ledger.SetAccountDetail](schema.SetAccountDetail)
}

func SetQuorum() *Builder[ledger.SetQuorum] { return Of[ledger.SetQuorum](schema.SetQuorum) }

func SubtractAssetQuantity() *Builder[ledger.SubtractAssetQuantity] {
	return Of[ledger.SubtractAssetQuantity](schema.SubtractAssetQuantity)
}

func TransferAsset() *Builder[ledger.TransferAsset] {
	return Of[ledger.TransferAsset](schema.TransferAsset)
}

// TransferAccount builds the legacy Transfer<Account> command.
func TransferAccount() *Builder[ledger.TransferAccount] {
	return Of[ledger.TransferAccount](schema.TransferAccount)
}

func Account() *Builder[ledger.Account] { return Of[ledger.Account](schema.Account) }

func Peer() *Builder[ledger.Peer] { return Of[ledger.Peer](schema.Peer) }

func Transaction() *Builder[ledger.Transaction] { return Of[ledger.Transaction](schema.Transaction) }

func Block() *Builder[ledger.Block] { return Of[ledger.Block](schema.Block) }

// EmptyBlock builds a block that carries no transactions.
func EmptyBlock() *Builder[ledger.Block] { return Of[ledger.Block](schema.EmptyBlock) }
