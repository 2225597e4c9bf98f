package tracker

import "errors"

// ErrEmptyDeviceID rejects events that carry no device identifier.
var ErrEmptyDeviceID = errors.New("empty device id")
