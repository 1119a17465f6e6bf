package encoding

import (
	"iter"
	"unsafe"

	"github.com/modern-go/reflect2"
)

type structData struct {
	handler handler
	offset  int
}

func decodeStruct(typ reflect2.StructType) (handler, structSize) {
	fields, size := layoutStruct(typ, decode, skipHandler)
	return func(stream Stream, ptr unsafe.Pointer) error {
		return walkStruct(stream, ptr, fields)
	}, size
}

// layoutStruct builds one handler per field and records the padding in
// front of each, so the wire layout equals the in-memory layout.
func layoutStruct(typ reflect2.StructType, build func(reflect2.Type) (handler, structSize), pad func(int) handler) ([]*structData, structSize) {
	count := typ.NumField()
	size := make(structSize, 0, count+1)
	fields := make([]*structData, 0, count)
	var offset int
	for field := range rangeField(typ) {
		fieldOffset := int(field.Offset())
		if n := fieldOffset - offset; n > 0 {
			size = append(size, n)
			fields = append(fields, &structData{pad(n), -1})
		}
		h, fieldSize := build(field.Type())
		size = size.Add(fieldSize)
		fields = append(fields, &structData{h, fieldOffset})
		offset = fieldOffset + fieldSize.Size()
	}
	if n := int(typ.Type1().Size()) - offset; n > 0 {
		size = append(size, n)
		fields = append(fields, &structData{pad(n), -1})
	}
	return fields, size
}

func walkStruct(stream Stream, ptr unsafe.Pointer, fields []*structData) error {
	for _, data := range fields {
		var fieldPtr unsafe.Pointer
		if data.offset >= 0 {
			fieldPtr = unsafe.Add(ptr, data.offset)
		}
		if err := data.handler(stream, fieldPtr); err != nil {
			return err
		}
	}
	return nil
}

func skipHandler(n int) handler {
	return func(stream Stream, _ unsafe.Pointer) error {
		return stream.Skip(n)
	}
}

func rangeField(typ reflect2.StructType) iter.Seq[reflect2.StructField] {
	return func(yield func(reflect2.StructField) bool) {
		count := typ.NumField()
		for i := 0; i < count; i++ {
			if !yield(typ.Field(i)) {
				break
			}
		}
	}
}
