package symbols

import "errors"

var (
	ErrParse      = errors.New("symbols: parse failed")
	ErrNotIndexed = errors.New("symbols: file not indexed")
)
