// ABOUTME: Tagged value representation used in every GC-traced slot
// ABOUTME: Explicit tag plus payload word; Empty is the tracer-safe sentinel

package heap

import (
	"fmt"
	"math"
)

// Tag discriminates the payload of a Value.
type Tag uint8

const (
	// TagEmpty marks a slot that holds no value. Slack storage exposed to the
	// tracer must always hold Empty so a mark pass never reads garbage.
	TagEmpty Tag = iota
	TagUndefined
	TagNull
	TagBool
	TagNumber
	TagSymbol
	TagObject
)

// String returns a human-readable tag name, for debugging.
func (t Tag) String() string {
	switch t {
	case TagEmpty:
		return "empty"
	case TagUndefined:
		return "undefined"
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagNumber:
		return "number"
	case TagSymbol:
		return "symbol"
	case TagObject:
		return "object"
	default:
		return "!err"
	}
}

// Address is the stable arena address of a heap cell. Address 0 is nil.
// A moving collector may change a cell's Address across a collection; only
// handle-indirected or collector-updated slots survive such a move.
type Address uint32

// NilAddress is the address that refers to no cell.
const NilAddress Address = 0

// SymbolID identifies an interned symbol owned by the runtime's identifier
// table. The collector only marks symbols; the runtime owns their storage.
type SymbolID uint32

// Value is a tagged runtime value. The original tagged-pointer encoding is
// replaced by an explicit discriminant, trading a wider slot for safety.
type Value struct {
	tag  Tag
	bits uint64
}

// EncodeEmpty returns the Empty sentinel value.
func EncodeEmpty() Value { return Value{} }

// EncodeUndefined returns the undefined value.
func EncodeUndefined() Value { return Value{tag: TagUndefined} }

// EncodeNull returns the null value.
func EncodeNull() Value { return Value{tag: TagNull} }

// EncodeBool returns a boolean value.
func EncodeBool(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{tag: TagBool, bits: bits}
}

// EncodeNumber returns a number value.
func EncodeNumber(f float64) Value {
	return Value{tag: TagNumber, bits: math.Float64bits(f)}
}

// EncodeSymbol returns a symbol value.
func EncodeSymbol(id SymbolID) Value {
	return Value{tag: TagSymbol, bits: uint64(id)}
}

// EncodeObject returns a value referencing the cell at addr.
func EncodeObject(addr Address) Value {
	assert(addr != NilAddress, "object value must reference a cell")
	return Value{tag: TagObject, bits: uint64(addr)}
}

// Tag returns the value's discriminant.
func (v Value) Tag() Tag { return v.tag }

func (v Value) IsEmpty() bool     { return v.tag == TagEmpty }
func (v Value) IsUndefined() bool { return v.tag == TagUndefined }
func (v Value) IsNull() bool      { return v.tag == TagNull }
func (v Value) IsBool() bool      { return v.tag == TagBool }
func (v Value) IsNumber() bool    { return v.tag == TagNumber }
func (v Value) IsSymbol() bool    { return v.tag == TagSymbol }
func (v Value) IsObject() bool    { return v.tag == TagObject }

// Bool returns the boolean payload.
func (v Value) Bool() bool {
	assert(v.IsBool(), "not a bool")
	return v.bits != 0
}

// Number returns the number payload.
func (v Value) Number() float64 {
	assert(v.IsNumber(), "not a number")
	return math.Float64frombits(v.bits)
}

// Symbol returns the symbol payload.
func (v Value) Symbol() SymbolID {
	assert(v.IsSymbol(), "not a symbol")
	return SymbolID(v.bits)
}

// Object returns the referenced cell address.
func (v Value) Object() Address {
	assert(v.IsObject(), "not an object")
	return Address(v.bits)
}

// String formats the value for logs and dumps.
func (v Value) String() string {
	switch v.tag {
	case TagBool:
		return fmt.Sprintf("bool(%t)", v.Bool())
	case TagNumber:
		return fmt.Sprintf("number(%g)", v.Number())
	case TagSymbol:
		return fmt.Sprintf("symbol(%d)", v.Symbol())
	case TagObject:
		return fmt.Sprintf("object(%d)", v.Object())
	default:
		return v.tag.String()
	}
}
