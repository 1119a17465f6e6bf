package hvloader

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrFormat     = errors.New("format invalid")
	ErrArgument   = errors.New("argument invalid")
	ErrCapacity   = errors.New("capacity exhausted")
	ErrState      = errors.New("state invalid")
	ErrLookup     = errors.New("lookup failed")
	ErrCorruption = errors.New("image corrupted")
)

var (
	ErrArgumentNil        = newError(ErrArgument, "argument nil")
	ErrBufferEmpty        = newError(ErrArgument, "buffer empty")
	ErrIndexInvalid       = newError(ErrArgument, "index out of range")
	ErrNameEmpty          = newError(ErrArgument, "name empty")
	ErrTooManyImages      = newError(ErrCapacity, "too many images")
	ErrUninitialized      = newError(ErrState, "image not initialized")
	ErrAlreadyInitialized = newError(ErrState, "image already initialized")
	ErrNoImages           = newError(ErrState, "no images added")
	ErrAlreadyRelocated   = newError(ErrState, "already relocated")
	ErrSymbolNotFound     = newError(ErrLookup, "symbol not found")
	ErrSectionNotFound    = newError(ErrLookup, "section not found")
	ErrRelocationType     = newError(ErrCorruption, "relocation type unsupported")
	ErrSymbolIndex        = newError(ErrCorruption, "symbol index out of range")
	ErrOutOfBounds        = newError(ErrCorruption, "offset out of bounds")
	ErrTableInvalid       = newError(ErrCorruption, "table invalid")
)

type kindError struct {
	kind error
	msg  string
}

func newError(kind error, msg string) error {
	return &kindError{kind, msg}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.kind
}

type Field int

const (
	FieldSize Field = iota
	FieldMag0
	FieldMag1
	FieldMag2
	FieldMag3
	FieldClass
	FieldData
	FieldIdentVersion
	FieldOSABI
	FieldABIVersion
	FieldType
	FieldMachine
	FieldVersion
	FieldFlags
)

var fieldNames = [...]string{
	FieldSize:         "size",
	FieldMag0:         "magic[0]",
	FieldMag1:         "magic[1]",
	FieldMag2:         "magic[2]",
	FieldMag3:         "magic[3]",
	FieldClass:        "class",
	FieldData:         "data encoding",
	FieldIdentVersion: "ident version",
	FieldOSABI:        "os/abi",
	FieldABIVersion:   "abi version",
	FieldType:         "type",
	FieldMachine:      "machine",
	FieldVersion:      "version",
	FieldFlags:        "flags",
}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// FormatError reports the first header field that failed validation.
type FormatError struct {
	Field Field
	Value uint64
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("[Format] %s invalid: %#x", e.Field, e.Value)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// Is matches another *FormatError naming the same field, ignoring Value.
func (e *FormatError) Is(target error) bool {
	t, ok := target.(*FormatError)
	return ok && t.Field == e.Field
}
