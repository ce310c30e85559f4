// Package builder assembles ledger values from the schema registry.
//
// One generic Builder serves every kind: a presence bitmap records which of the
// kind's required fields have been supplied, Build refuses to produce a value
// while any of them is missing, and the finished value is assembled through the
// `field:"..."` struct tags of its ledger type. A builder yields at most one value.
package builder

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/bits-and-blooms/bitset"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pakloong/iroha/pkg/schema"
)

// Builder collects the fields of one kind and produces a T once all are present.
// It is not safe for concurrent use.
type Builder[T any] struct {
	def    schema.Definition
	layout *layout
	values []reflect.Value
	set    *bitset.BitSet
	errs   []error
	built  bool
}

type layout struct {
	target reflect.Type
	fields []int
	types  []reflect.Type
}

type layoutKey struct {
	kind   schema.Kind
	target reflect.Type
}

var layouts = xsync.NewMap[layoutKey, *layout]()

func newBuilder[T any](def schema.Definition, target reflect.Type) *Builder[T] {
	if want := reflect.TypeFor[T](); !target.AssignableTo(want) {
		panic(fmt.Sprintf("builder: %s is not assignable to %s", target, want))
	}
	return &Builder[T]{
		def:    def,
		layout: layoutOf(def, target),
		values: make([]reflect.Value, len(def.Fields)),
		set:    bitset.New(uint(len(def.Fields))),
	}
}

func layoutOf(def schema.Definition, target reflect.Type) *layout {
	key := layoutKey{kind: def.Kind, target: target}
	if l, ok := layouts.Load(key); ok {
		return l
	}

	if target.Kind() != reflect.Struct {
		panic(fmt.Sprintf("builder: %s for %s is not a struct", target, def.Kind))
	}
	tagged := make(map[string]reflect.StructField, target.NumField())
	for i := 0; i < target.NumField(); i++ {
		f := target.Field(i)
		if name, ok := f.Tag.Lookup("field"); ok {
			tagged[name] = f
		}
	}

	l := &layout{
		target: target,
		fields: make([]int, len(def.Fields)),
		types:  make([]reflect.Type, len(def.Fields)),
	}
	for i, field := range def.Fields {
		sf, ok := tagged[field.Name]
		if !ok {
			panic(fmt.Sprintf("builder: %s has no field tagged %q required by %s", target, field.Name, def.Kind))
		}
		want, ok := goTypes[field.Type]
		if !ok || sf.Type != want {
			panic(fmt.Sprintf("builder: %s.%s is %s, %s needs %s", target, sf.Name, sf.Type, def.Kind, field.Type))
		}
		l.fields[i] = sf.Index[0]
		l.types[i] = want
	}

	l, _ = layouts.LoadOrStore(key, l)
	return l
}

// Kind returns the kind being built.
func (b *Builder[T]) Kind() schema.Kind { return b.def.Kind }

// Set stores a field value. Slices are copied, so the caller may reuse its own.
func (b *Builder[T]) Set(name string, value any) error {
	if b.built {
		return ErrConsumed
	}
	i := b.def.FieldIndex(name)
	if i < 0 {
		return &UnknownFieldError{Kind: b.def.Kind, Field: name}
	}
	if b.set.Test(uint(i)) {
		return &DuplicateFieldError{Kind: b.def.Kind, Field: name}
	}
	v, ok := coerce(value, b.layout.types[i])
	if !ok {
		return &FieldTypeError{Kind: b.def.Kind, Field: name, Want: b.def.Fields[i].Type, Got: describe(value)}
	}
	b.values[i] = v
	b.set.Set(uint(i))
	return nil
}

// With is the chaining form of Set. Errors are kept and reported by Build.
func (b *Builder[T]) With(name string, value any) *Builder[T] {
	if err := b.Set(name, value); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// IsSet reports whether the named field has a value.
func (b *Builder[T]) IsSet(name string) bool {
	i := b.def.FieldIndex(name)
	return i >= 0 && b.set.Test(uint(i))
}

// Missing lists the required fields not yet set, in schema order.
func (b *Builder[T]) Missing() []string {
	var missing []string
	for i, f := range b.def.Fields {
		if !b.set.Test(uint(i)) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Build returns the finished value. Errors recorded by With come first; then, if
// any required field is unset, a single *UnsetFieldsError names all of them.
// A successful Build consumes the builder.
func (b *Builder[T]) Build() (T, error) {
	var zero T
	if b.built {
		return zero, ErrConsumed
	}
	if len(b.errs) > 0 {
		return zero, errors.Join(b.errs...)
	}
	if b.set.Count() != uint(len(b.def.Fields)) {
		return zero, &UnsetFieldsError{Kind: b.def.Kind, Missing: b.Missing()}
	}

	out := reflect.New(b.layout.target).Elem()
	for i, idx := range b.layout.fields {
		out.Field(idx).Set(b.values[i])
	}
	b.built = true
	b.values = nil
	return out.Interface().(T), nil
}
