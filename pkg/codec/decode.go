package codec

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pakloong/iroha/pkg/builder"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/schema"
)

type setter func(name string, value any) error

// decodeKind feeds every known field of data to set. Unknown field numbers are
// skipped. Signatures are collected only when sigs is non-nil.
func decodeKind(kind schema.Kind, data []byte, set setter, sigs *[]ledger.Signature) error {
	def := schema.Lookup(kind)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, protowire.ParseError(n))
		}
		data = data[n:]

		if num == signatureField && sigs != nil && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: %s signature: %v", ErrMalformed, kind, protowire.ParseError(n))
			}
			sig, err := decodeSignature(raw)
			if err != nil {
				return fmt.Errorf("%s signature: %w", kind, err)
			}
			*sigs = append(*sigs, sig)
			data = data[n:]
			continue
		}

		idx := int(num) - 1
		if idx < 0 || idx >= len(def.Fields) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %s field %d: %v", ErrMalformed, kind, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		f := def.Fields[idx]
		value, n, err := consumeValue(f.Type, typ, data)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", kind, f.Name, err)
		}
		data = data[n:]
		if err := set(f.Name, value); err != nil {
			return err
		}
	}
	return nil
}

func consumeValue(ft schema.FieldType, typ protowire.Type, data []byte) (any, int, error) {
	switch ft {
	case schema.TypeUint32, schema.TypeUint64, schema.TypeTime:
		if typ != protowire.VarintType {
			return nil, 0, fmt.Errorf("%w: wire type %d, want varint", ErrMalformed, typ)
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		if ft == schema.TypeTime {
			return time.UnixMilli(int64(v)).UTC(), n, nil
		}
		return v, n, nil
	}

	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: wire type %d, want bytes", ErrMalformed, typ)
	}
	raw, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	value, err := decodeBytes(ft, raw)
	if err != nil {
		return nil, 0, err
	}
	return value, n, nil
}

func decodeBytes(ft schema.FieldType, raw []byte) (any, error) {
	switch ft {
	case schema.TypeString, schema.TypeAccountID, schema.TypeAssetID, schema.TypeDomainID:
		return string(raw), nil
	case schema.TypePublicKey:
		return ledger.PublicKey(raw), nil
	case schema.TypeAmount:
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrMalformed, err)
		}
		return d, nil
	case schema.TypeHash:
		var h ledger.Hash
		if len(raw) != len(h) {
			return nil, fmt.Errorf("%w: hash of %d bytes", ErrMalformed, len(raw))
		}
		copy(h[:], raw)
		return h, nil
	case schema.TypeStrings:
		var out []string
		err := eachItem(raw, func(_ protowire.Number, item []byte) error {
			out = append(out, string(item))
			return nil
		})
		return out, err
	case schema.TypeAccount:
		b := builder.Account()
		if err := decodeKind(schema.Account, raw, b.Set, nil); err != nil {
			return nil, err
		}
		return b.Build()
	case schema.TypePeer:
		b := builder.Peer()
		if err := decodeKind(schema.Peer, raw, b.Set, nil); err != nil {
			return nil, err
		}
		return b.Build()
	case schema.TypeCommands:
		var cmds []ledger.Command
		err := eachItem(raw, func(num protowire.Number, item []byte) error {
			cmd, err := decodeCommand(num, item)
			if err != nil {
				return err
			}
			cmds = append(cmds, cmd)
			return nil
		})
		return cmds, err
	case schema.TypeTransactions:
		var txs []ledger.Transaction
		err := eachItem(raw, func(_ protowire.Number, item []byte) error {
			tx, err := UnmarshalTransaction(item)
			if err != nil {
				return err
			}
			txs = append(txs, tx)
			return nil
		})
		return txs, err
	}
	return nil, fmt.Errorf("unsupported field type %s", ft)
}

func decodeCommand(num protowire.Number, body []byte) (ledger.Command, error) {
	kind, ok := schema.KindByTag(uint32(num))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, num)
	}
	b := builder.NewCommand(kind)
	if err := decodeKind(kind, body, b.Set, nil); err != nil {
		return nil, err
	}
	return b.Build()
}

// eachItem walks a list message whose items are all length-delimited.
func eachItem(data []byte, fn func(num protowire.Number, item []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			return fmt.Errorf("%w: list item wire type %d", ErrMalformed, typ)
		}
		item, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(num, item); err != nil {
			return err
		}
	}
	return nil
}

func decodeSignature(raw []byte) (ledger.Signature, error) {
	var sig ledger.Signature
	err := eachItem(raw, func(num protowire.Number, item []byte) error {
		switch num {
		case 1:
			sig.PublicKey = append(ledger.PublicKey(nil), item...)
		case 2:
			sig.Signature = append([]byte(nil), item...)
		}
		return nil
	})
	return sig, err
}
