package encoding

import "github.com/pkg/errors"

var (
	ErrShortStream  = errors.New("stream too short")
	ErrUnterminated = errors.New("string unterminated")
	ErrNotPointer   = errors.New("value is not a pointer")
	ErrNilValue     = errors.New("value is nil")
)
