package encoding

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type padded struct {
	A uint8
	B uint32
	C [3]uint16
	D int64
	E uint8
}

func TestDecodeMatchesBinaryRead(t *testing.T) {
	want := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     0x150,
		Phoff:     0x40,
		Shoff:     0x1234,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     5,
		Shentsize: 64,
		Shnum:     3,
		Shstrndx:  2,
	}
	copy(want.Ident[:], elf.ELFMAG)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &want))

	var got elf.Header64
	require.NoError(t, DecodeAt(buf.Bytes(), 0, &got))
	require.Equal(t, want, got)
	require.Equal(t, buf.Len(), DecodeSize(&got))
}

func TestDecodeShortStream(t *testing.T) {
	raw := make([]byte, elf.Sym64Size-1)
	var sym elf.Sym64
	err := DecodeAt(raw, 0, &sym)
	require.ErrorIs(t, err, ErrShortStream)

	stream := NewBufferStream(make([]byte, 8), 4)
	var v uint64
	require.ErrorIs(t, Decode(stream, &v), ErrShortStream)
	require.Equal(t, uint64(4), stream.Offset())
}

func TestDecodeOffsetPastEnd(t *testing.T) {
	var v uint32
	require.ErrorIs(t, DecodeAt(make([]byte, 4), 1<<40, &v), ErrShortStream)
}

func TestEncodeDecodePadding(t *testing.T) {
	in := padded{A: 1, B: 0xdeadbeef, C: [3]uint16{1, 2, 3}, D: -2, E: 9}
	size := DecodeSize(&in)
	require.Equal(t, 32, size)

	buf := bytes.Repeat([]byte{0xff}, size)
	require.NoError(t, EncodeAt(buf, 0, &in))
	require.Equal(t, []byte{1, 0, 0, 0}, buf[:4])
	require.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, buf[4:8])

	var out padded
	require.NoError(t, DecodeAt(buf, 0, &out))
	require.Equal(t, in, out)
}

func TestDecodeArguments(t *testing.T) {
	var v uint32
	require.ErrorIs(t, DecodeAt(make([]byte, 4), 0, v), ErrNotPointer)
	require.ErrorIs(t, DecodeAt(make([]byte, 4), 0, nil), ErrNilValue)
	require.ErrorIs(t, DecodeAt(make([]byte, 4), 0, (*uint32)(nil)), ErrNilValue)
}

func TestBufferStreamString(t *testing.T) {
	buf := make([]byte, 12)
	copy(buf[1:], "init\x00fini\x00")

	r := NewBufferStream(buf, 1)
	str, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "init", str)
	str, err = r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "fini", str)
	str, err = r.ReadString()
	require.NoError(t, err)
	require.Empty(t, str)
	_, err = r.ReadString()
	require.ErrorIs(t, err, ErrShortStream)

	_, err = NewBufferStream([]byte("abc"), 0).ReadString()
	require.ErrorIs(t, err, ErrUnterminated)
}
