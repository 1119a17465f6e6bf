package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

var padNull [64]byte

func encodeStruct(typ reflect2.StructType) (handler, structSize) {
	fields, size := layoutStruct(typ, encode, padHandler)
	return func(stream Stream, ptr unsafe.Pointer) error {
		return walkStruct(stream, ptr, fields)
	}, size
}

func padHandler(n int) handler {
	return func(stream Stream, _ unsafe.Pointer) error {
		for rest := n; rest > 0; {
			chunk := min(rest, len(padNull))
			if _, err := stream.Write(padNull[:chunk]); err != nil {
				return err
			}
			rest -= chunk
		}
		return nil
	}
}
