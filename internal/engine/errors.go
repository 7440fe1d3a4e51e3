package engine

import "errors"

// ErrUnknownTable is returned for an export of a table the engine does not hold.
var ErrUnknownTable = errors.New("unknown table")
