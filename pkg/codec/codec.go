// Package codec maps ledger values to and from the protobuf wire format.
//
// Field numbers come from the schema registry: the fields of a kind are numbered
// 1..n in schema order, and a command inside a transaction is a field whose number
// is its kind's tag. List-valued fields are written as one nested message so that
// an empty list is still present on the wire. Decoding goes through the builders,
// so a message that lacks a required field fails with *builder.UnsetFieldsError.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pakloong/iroha/pkg/builder"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/schema"
)

// signatureField carries signatures on transactions and blocks. It sits above
// every schema field number.
const signatureField protowire.Number = 15

const listItemField protowire.Number = 1

var (
	ErrMalformed      = errors.New("malformed ledger message")
	ErrUnknownCommand = errors.New("unknown command tag")
)

// MarshalBlock encodes a block including its signatures.
func MarshalBlock(b ledger.Block) ([]byte, error) {
	return appendBlock(nil, b, true)
}

// UnmarshalBlock decodes a block produced by MarshalBlock.
func UnmarshalBlock(data []byte) (ledger.Block, error) {
	b := builder.Block()
	var sigs []ledger.Signature
	if err := decodeKind(schema.Block, data, b.Set, &sigs); err != nil {
		return ledger.Block{}, err
	}
	block, err := b.Build()
	if err != nil {
		return ledger.Block{}, err
	}
	block.Signatures = sigs
	return block, nil
}

// MarshalTransaction encodes a transaction including its signatures.
func MarshalTransaction(tx ledger.Transaction) ([]byte, error) {
	return appendTransaction(nil, tx)
}

// UnmarshalTransaction decodes a transaction produced by MarshalTransaction.
func UnmarshalTransaction(data []byte) (ledger.Transaction, error) {
	b := builder.Transaction()
	var sigs []ledger.Signature
	if err := decodeKind(schema.Transaction, data, b.Set, &sigs); err != nil {
		return ledger.Transaction{}, err
	}
	tx, err := b.Build()
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.Signatures = sigs
	return tx, nil
}

// BlockHash is the SHA3-256 of the block payload without block signatures.
func BlockHash(b ledger.Block) (ledger.Hash, error) {
	payload, err := appendBlock(nil, b, false)
	if err != nil {
		return ledger.Hash{}, err
	}
	return ledger.Hash(sha3.Sum256(payload)), nil
}

func appendBlock(buf []byte, b ledger.Block, withSigs bool) ([]byte, error) {
	buf, err := appendKind(buf, schema.Block, reflect.ValueOf(b))
	if err != nil {
		return nil, err
	}
	if withSigs {
		buf = appendSignatures(buf, b.Signatures)
	}
	return buf, nil
}

func appendTransaction(buf []byte, tx ledger.Transaction) ([]byte, error) {
	buf, err := appendKind(buf, schema.Transaction, reflect.ValueOf(tx))
	if err != nil {
		return nil, err
	}
	return appendSignatures(buf, tx.Signatures), nil
}

func appendSignatures(buf []byte, sigs []ledger.Signature) []byte {
	for _, s := range sigs {
		var inner []byte
		inner = protowire.AppendTag(inner, 1, protowire.BytesType)
		inner = protowire.AppendBytes(inner, s.PublicKey)
		inner = protowire.AppendTag(inner, 2, protowire.BytesType)
		inner = protowire.AppendBytes(inner, s.Signature)
		buf = protowire.AppendTag(buf, signatureField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, inner)
	}
	return buf
}

func appendCommand(buf []byte, cmd ledger.Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("codec: nil command")
	}
	def := schema.Lookup(cmd.Kind())
	if def.Category != schema.CategoryCommand {
		return nil, fmt.Errorf("codec: %s is not a command", def.Kind)
	}
	body, err := appendKind(nil, def.Kind, reflect.Indirect(reflect.ValueOf(cmd)))
	if err != nil {
		return nil, err
	}
	buf = protowire.AppendTag(buf, protowire.Number(def.Tag), protowire.BytesType)
	return protowire.AppendBytes(buf, body), nil
}

func appendKind(buf []byte, kind schema.Kind, v reflect.Value) ([]byte, error) {
	def := schema.Lookup(kind)
	for i, f := range def.Fields {
		fv, ok := fieldByTag(v, f.Name)
		if !ok {
			return nil, fmt.Errorf("codec: %s has no field for %s.%s", v.Type(), kind, f.Name)
		}
		var err error
		if buf, err = appendValue(buf, protowire.Number(i+1), f.Type, fv); err != nil {
			return nil, fmt.Errorf("codec: %s.%s: %w", kind, f.Name, err)
		}
	}
	return buf, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("field") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func appendValue(buf []byte, num protowire.Number, ft schema.FieldType, v reflect.Value) ([]byte, error) {
	switch ft {
	case schema.TypeUint32, schema.TypeUint64:
		buf = protowire.AppendTag(buf, num, protowire.VarintType)
		return protowire.AppendVarint(buf, v.Uint()), nil
	case schema.TypeTime:
		buf = protowire.AppendTag(buf, num, protowire.VarintType)
		return protowire.AppendVarint(buf, uint64(v.Interface().(time.Time).UnixMilli())), nil
	}

	var inner []byte
	switch ft {
	case schema.TypeString, schema.TypeAccountID, schema.TypeAssetID, schema.TypeDomainID:
		inner = []byte(v.String())
	case schema.TypePublicKey:
		inner = v.Bytes()
	case schema.TypeAmount:
		inner = []byte(v.Interface().(decimal.Decimal).String())
	case schema.TypeHash:
		h := v.Interface().(ledger.Hash)
		inner = h[:]
	case schema.TypeStrings:
		for _, s := range v.Interface().([]string) {
			inner = protowire.AppendTag(inner, listItemField, protowire.BytesType)
			inner = protowire.AppendString(inner, s)
		}
	case schema.TypeAccount:
		var err error
		if inner, err = appendKind(nil, schema.Account, v); err != nil {
			return nil, err
		}
	case schema.TypePeer:
		var err error
		if inner, err = appendKind(nil, schema.Peer, v); err != nil {
			return nil, err
		}
	case schema.TypeCommands:
		for _, cmd := range v.Interface().([]ledger.Command) {
			var err error
			if inner, err = appendCommand(inner, cmd); err != nil {
				return nil, err
			}
		}
	case schema.TypeTransactions:
		for _, tx := range v.Interface().([]ledger.Transaction) {
			body, err := appendTransaction(nil, tx)
			if err != nil {
				return nil, err
			}
			inner = protowire.AppendTag(inner, listItemField, protowire.BytesType)
			inner = protowire.AppendBytes(inner, body)
		}
	default:
		return nil, fmt.Errorf("unsupported field type %s", ft)
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, inner), nil
}
