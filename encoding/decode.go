package encoding

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

type handler = func(Stream, unsafe.Pointer) error

type handlerData struct {
	handler handler
	size    int
}

var decodeProcess sync.Map

// DecodeSize returns the number of bytes Decode consumes for val, which must
// be a pointer to a fixed size value.
func DecodeSize(val any) int {
	typ, err := elemType(val)
	if err != nil {
		return 0
	}
	return getUnmarshalData(typ).size
}

// Decode fills the value val points to from stream, field by field in
// little-endian order, using the value's in-memory layout as the wire layout.
func Decode(stream Stream, val any) error {
	typ, err := elemType(val)
	if err != nil {
		return err
	}
	ptr := reflect2.PtrOf(val)
	if ptr == nil {
		return ErrNilValue
	}
	return getUnmarshalData(typ).handler(stream, ptr)
}

// DecodeAt decodes val from buf starting at off.
func DecodeAt(buf []byte, off uint64, val any) error {
	return Decode(NewBufferStream(buf, off), val)
}

func getUnmarshalData(typ reflect2.Type) *handlerData {
	key := typ.RType()
	var data *handlerData
	if v, ok := decodeProcess.Load(key); ok {
		data = v.(*handlerData)
	} else {
		unmarshal, size := decode(typ)
		data = &handlerData{unmarshal, size.Size()}
		decodeProcess.Store(key, data)
	}
	return data
}

func decode(typ reflect2.Type) (handler, structSize) {
	switch typ.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		size := int(typ.Type1().Size())
		return func(stream Stream, ptr unsafe.Pointer) error {
			var buf [8]byte
			if _, err := stream.Read(buf[:size]); err != nil {
				return err
			}
			switch size {
			case 1:
				*(*uint8)(ptr) = buf[0]
			case 2:
				*(*uint16)(ptr) = binary.LittleEndian.Uint16(buf[:])
			case 4:
				*(*uint32)(ptr) = binary.LittleEndian.Uint32(buf[:])
			case 8:
				*(*uint64)(ptr) = binary.LittleEndian.Uint64(buf[:])
			}
			return nil
		}, structSize{size}
	case reflect.Array:
		return decodeArray(typ.(reflect2.ArrayType))
	case reflect.Struct:
		return decodeStruct(typ.(reflect2.StructType))
	}
	panic("Unsupported Type")
}

func elemType(val any) (reflect2.Type, error) {
	if val == nil {
		return nil, ErrNilValue
	}
	typ := reflect.TypeOf(val)
	if typ.Kind() != reflect.Pointer {
		return nil, ErrNotPointer
	}
	return reflect2.Type2(typ.Elem()), nil
}
