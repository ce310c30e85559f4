package builder

import (
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/schema"
)

var goTypes = map[schema.FieldType]reflect.Type{
	schema.TypeString:       reflect.TypeFor[string](),
	schema.TypeAccountID:    reflect.TypeFor[ledger.AccountID](),
	schema.TypeAssetID:      reflect.TypeFor[ledger.AssetID](),
	schema.TypeDomainID:     reflect.TypeFor[ledger.DomainID](),
	schema.TypePublicKey:    reflect.TypeFor[ledger.PublicKey](),
	schema.TypeAmount:       reflect.TypeFor[decimal.Decimal](),
	schema.TypeUint32:       reflect.TypeFor[uint32](),
	schema.TypeUint64:       reflect.TypeFor[uint64](),
	schema.TypeTime:         reflect.TypeFor[time.Time](),
	schema.TypeHash:         reflect.TypeFor[ledger.Hash](),
	schema.TypeStrings:      reflect.TypeFor[[]string](),
	schema.TypeAccount:      reflect.TypeFor[ledger.Account](),
	schema.TypePeer:         reflect.TypeFor[ledger.Peer](),
	schema.TypeCommands:     reflect.TypeFor[[]ledger.Command](),
	schema.TypeTransactions: reflect.TypeFor[[]ledger.Transaction](),
}

var bytesType = reflect.TypeFor[[]byte]()

// coerce converts value to want. Identifier types accept plain strings, public
// keys accept raw bytes and unsigned fields accept any integer that fits.
// Everything else must already have the exact type.
func coerce(value any, want reflect.Type) (reflect.Value, bool) {
	if value == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(value)
	t := v.Type()

	switch {
	case t == want:
	case t.Kind() == reflect.String && want.Kind() == reflect.String:
		v = v.Convert(want)
	case t == bytesType && want == goTypes[schema.TypePublicKey]:
		v = v.Convert(want)
	case isUnsigned(want.Kind()):
		u, ok := toUint(v)
		if !ok || reflect.Zero(want).OverflowUint(u) {
			return reflect.Value{}, false
		}
		v = reflect.ValueOf(u).Convert(want)
	default:
		return reflect.Value{}, false
	}

	if want == goTypes[schema.TypeCommands] {
		for i := 0; i < v.Len(); i++ {
			if v.Index(i).IsNil() {
				return reflect.Value{}, false
			}
		}
	}
	return clone(v), true
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func toUint(v reflect.Value) (uint64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int() < 0 {
			return 0, false
		}
		return uint64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), true
	}
	return 0, false
}

// clone copies the backing array of slices so the built value never aliases
// caller memory. Nil slices stay nil.
func clone(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Slice || v.IsNil() {
		return v
	}
	out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}

func describe(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}
