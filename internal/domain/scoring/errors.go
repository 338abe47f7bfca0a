package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrBadResults = errors.New("bad results payload")
)
