// Package schema is the static catalog of required fields for every command,
// object, transaction and block kind.
//
// The catalog is parsed once from the embedded registry.yaml when the package is
// initialised and is read-only afterwards. Asking for a kind that is not in the
// catalog is a programming error and panics.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Kind tags a command, object, transaction or block shape.
type Kind string

const (
	AddAssetQuantity      Kind = "AddAssetQuantity"
	AddPeer               Kind = "AddPeer"
	AddSignatory          Kind = "AddSignatory"
	AppendRole            Kind = "AppendRole"
	CreateAccount         Kind = "CreateAccount"
	CreateAsset           Kind = "CreateAsset"
	CreateDomain          Kind = "CreateDomain"
	CreateRole            Kind = "CreateRole"
	DetachRole            Kind = "DetachRole"
	GrantPermission       Kind = "GrantPermission"
	RemoveSignatory       Kind = "RemoveSignatory"
	RevokePermission      Kind = "RevokePermission"
	SetAccountDetail      Kind = "SetAccountDetail"
	SetQuorum             Kind = "SetQuorum"
	SubtractAssetQuantity Kind = "SubtractAssetQuantity"
	TransferAsset         Kind = "TransferAsset"
	TransferAccount       Kind = "TransferAccount"

	Account     Kind = "Account"
	Peer        Kind = "Peer"
	Transaction Kind = "Transaction"
	Block       Kind = "Block"
	EmptyBlock  Kind = "EmptyBlock"
)

// Category groups kinds by the role they play in the ledger.
type Category string

const (
	CategoryCommand     Category = "command"
	CategoryObject      Category = "object"
	CategoryTransaction Category = "transaction"
	CategoryBlock       Category = "block"
)

// FieldType names the value shape a field carries.
type FieldType string

const (
	TypeString       FieldType = "string"
	TypeAccountID    FieldType = "account_id"
	TypeAssetID      FieldType = "asset_id"
	TypeDomainID     FieldType = "domain_id"
	TypePublicKey    FieldType = "public_key"
	TypeAmount       FieldType = "amount"
	TypeUint32       FieldType = "uint32"
	TypeUint64       FieldType = "uint64"
	TypeTime         FieldType = "time"
	TypeHash         FieldType = "hash"
	TypeStrings      FieldType = "strings"
	TypeAccount      FieldType = "account"
	TypePeer         FieldType = "peer"
	TypeCommands     FieldType = "commands"
	TypeTransactions FieldType = "transactions"
)

var fieldTypes = []FieldType{
	TypeString, TypeAccountID, TypeAssetID, TypeDomainID, TypePublicKey, TypeAmount,
	TypeUint32, TypeUint64, TypeTime, TypeHash, TypeStrings, TypeAccount, TypePeer,
	TypeCommands, TypeTransactions,
}

var categories = []Category{CategoryCommand, CategoryObject, CategoryTransaction, CategoryBlock}

// Field is one required attribute of a kind.
type Field struct {
	Name string    `yaml:"name"`
	Type FieldType `yaml:"type"`
}

// Definition describes a kind. Tag is only set for commands.
type Definition struct {
	Kind     Kind     `yaml:"kind"`
	Category Category `yaml:"category"`
	Tag      uint32   `yaml:"tag"`
	Fields   []Field  `yaml:"fields"`
}

// FieldNames returns the required field names in schema order.
func (d Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldIndex returns the position of a field, or -1.
func (d Definition) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Registry is an immutable lookup table of kind definitions.
type Registry struct {
	order []Kind
	defs  map[Kind]Definition
	byTag map[uint32]Kind
}

var (
	ErrEmptyRegistry = errors.New("schema registry has no kinds")
	ErrUnknownKind   = errors.New("unknown kind")
)

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var doc struct {
		Kinds []Definition `yaml:"kinds"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schema registry: %w", err)
	}
	if len(doc.Kinds) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{
		defs:  make(map[Kind]Definition, len(doc.Kinds)),
		byTag: make(map[uint32]Kind),
	}
	for _, def := range doc.Kinds {
		if err := r.add(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(def Definition) error {
	if def.Kind == "" {
		return errors.New("schema registry: kind without a name")
	}
	if _, dup := r.defs[def.Kind]; dup {
		return fmt.Errorf("schema registry: kind %s defined twice", def.Kind)
	}
	if !slices.Contains(categories, def.Category) {
		return fmt.Errorf("schema registry: kind %s has invalid category %q", def.Kind, def.Category)
	}
	if len(def.Fields) == 0 {
		return fmt.Errorf("schema registry: kind %s has no fields", def.Kind)
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema registry: kind %s has a field without a name", def.Kind)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema registry: kind %s repeats field %s", def.Kind, f.Name)
		}
		seen[f.Name] = true
		if !slices.Contains(fieldTypes, f.Type) {
			return fmt.Errorf("schema registry: %s.%s has invalid type %q", def.Kind, f.Name, f.Type)
		}
	}

	if def.Category == CategoryCommand {
		if def.Tag == 0 {
			return fmt.Errorf("schema registry: command %s has no wire tag", def.Kind)
		}
		if other, dup := r.byTag[def.Tag]; dup {
			return fmt.Errorf("schema registry: commands %s and %s share tag %d", other, def.Kind, def.Tag)
		}
		r.byTag[def.Tag] = def.Kind
	} else if def.Tag != 0 {
		return fmt.Errorf("schema registry: %s %s must not carry a tag", def.Category, def.Kind)
	}

	def.Fields = slices.Clone(def.Fields)
	r.defs[def.Kind] = def
	r.order = append(r.order, def.Kind)
	return nil
}

// Lookup returns the definition of kind and panics when the kind is unknown.
func (r *Registry) Lookup(kind Kind) Definition {
	def, ok := r.defs[kind]
	if !ok {
		panic(fmt.Sprintf("schema: %v: %q", ErrUnknownKind, kind))
	}
	return def
}

// Known reports whether kind is in the registry.
func (r *Registry) Known(kind Kind) bool {
	_, ok := r.defs[kind]
	return ok
}

// RequiredFields returns the ordered required field names of kind.
func (r *Registry) RequiredFields(kind Kind) []string {
	return r.Lookup(kind).FieldNames()
}

// Kinds lists the kinds of a category in registry order. An empty category lists all.
func (r *Registry) Kinds(category Category) []Kind {
	var kinds []Kind
	for _, k := range r.order {
		if category == "" || r.defs[k].Category == category {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// KindByTag resolves a command wire tag.
func (r *Registry) KindByTag(tag uint32) (Kind, bool) {
	k, ok := r.byTag[tag]
	return k, ok
}

//go:embed registry.yaml
var registryYAML []byte

var defaultRegistry = mustParse(registryYAML)

func mustParse(data []byte) *Registry {
	r, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Lookup returns the definition of kind from the process-wide registry.
func Lookup(kind Kind) Definition { return defaultRegistry.Lookup(kind) }

// Known reports whether kind is in the process-wide registry.
func Known(kind Kind) bool { return defaultRegistry.Known(kind) }

// RequiredFields returns the required field names of kind.
func RequiredFields(kind Kind) []string { return defaultRegistry.RequiredFields(kind) }

// Kinds lists the process-wide kinds of a category.
func Kinds(category Category) []Kind { return defaultRegistry.Kinds(category) }

// KindByTag resolves a command wire tag in the process-wide registry.
func KindByTag(tag uint32) (Kind, bool) { return defaultRegistry.KindByTag(tag) }
