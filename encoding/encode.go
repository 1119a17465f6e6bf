package encoding

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

var encodeProcess sync.Map

// Encode writes the value val points to into stream with the layout Decode
// expects.
func Encode(stream Stream, val any) error {
	typ, err := elemType(val)
	if err != nil {
		return err
	}
	ptr := reflect2.PtrOf(val)
	if ptr == nil {
		return ErrNilValue
	}
	return getMarshalData(typ).handler(stream, ptr)
}

func EncodeAt(buf []byte, off uint64, val any) error {
	return Encode(NewBufferStream(buf, off), val)
}

func getMarshalData(typ reflect2.Type) *handlerData {
	key := typ.RType()
	var data *handlerData
	if v, ok := encodeProcess.Load(key); ok {
		data = v.(*handlerData)
	} else {
		marshal, size := encode(typ)
		data = &handlerData{marshal, size.Size()}
		encodeProcess.Store(key, data)
	}
	return data
}

func encode(typ reflect2.Type) (handler, structSize) {
	switch typ.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		size := int(typ.Type1().Size())
		return func(stream Stream, ptr unsafe.Pointer) error {
			var buf [8]byte
			switch size {
			case 1:
				buf[0] = *(*uint8)(ptr)
			case 2:
				binary.LittleEndian.PutUint16(buf[:], *(*uint16)(ptr))
			case 4:
				binary.LittleEndian.PutUint32(buf[:], *(*uint32)(ptr))
			case 8:
				binary.LittleEndian.PutUint64(buf[:], *(*uint64)(ptr))
			}
			_, err := stream.Write(buf[:size])
			return err
		}, structSize{size}
	case reflect.Array:
		return encodeArray(typ.(reflect2.ArrayType))
	case reflect.Struct:
		return encodeStruct(typ.(reflect2.StructType))
	}
	panic("Unsupported Type")
}
