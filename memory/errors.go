package memory

import "github.com/pkg/errors"

var ErrAddressInvalid = errors.New("address invalid")
