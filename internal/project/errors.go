package project

import "errors"

var (
	ErrMalformedEntry = errors.New("project: malformed classpath entry")
	ErrNoLocation     = errors.New("project: event without location")
	ErrSuperseded     = errors.New("project: subscription superseded by a newer request")
	ErrInitTimeout    = errors.New("project: primary source initialization timed out")
)
