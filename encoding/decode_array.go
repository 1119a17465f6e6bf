package encoding

import (
	"reflect"
	"unsafe"

	"github.com/modern-go/reflect2"
)

func decodeArray(typ reflect2.ArrayType) (handler, structSize) {
	count := typ.Len()
	elemType := typ.Elem()
	if isByte(elemType) {
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Read(unsafe.Slice((*byte)(ptr), count))
			return err
		}, structSize{count}
	}
	unmarshal, elemSize := decode(elemType)
	size := make(structSize, 0, count*len(elemSize))
	for i := 0; i < count; i++ {
		size = size.Add(elemSize)
	}
	return func(stream Stream, ptr unsafe.Pointer) error {
		for i := 0; i < count; i++ {
			if err := unmarshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
		}
		return nil
	}, size
}

func isByte(typ reflect2.Type) bool {
	switch typ.Kind() {
	case reflect.Uint8, reflect.Int8:
		return true
	}
	return false
}
