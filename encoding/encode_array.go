package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func encodeArray(typ reflect2.ArrayType) (handler, structSize) {
	count := typ.Len()
	elemType := typ.Elem()
	if isByte(elemType) {
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Write(unsafe.Slice((*byte)(ptr), count))
			return err
		}, structSize{count}
	}
	marshal, elemSize := encode(elemType)
	size := make(structSize, 0, count*len(elemSize))
	for i := 0; i < count; i++ {
		size = size.Add(elemSize)
	}
	return func(stream Stream, ptr unsafe.Pointer) error {
		for i := 0; i < count; i++ {
			if err := marshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
		}
		return nil
	}, size
}
