package replay

import "errors"

// ErrInvalidOrdering is returned when events are not in ascending sequence order.
var ErrInvalidOrdering = errors.New("events are not in sequence order")
