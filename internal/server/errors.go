package server

import "errors"

var (
	errNotInitialized   = errors.New("server not initialized")
	errNoClient         = errors.New("no client connection")
	errListenerRejected = errors.New("classpath listener rejected by client")
	errNoArchitecture   = errors.New("architecture analysis is disabled")
	errFallbackActive   = errors.New("classpath listening unavailable: workspace projects come from build files")
	errMissingArgument  = errors.New("missing command argument")
)
