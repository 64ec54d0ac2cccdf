package buildfile

import "errors"

var ErrInvalidBuildFile = errors.New("buildfile: invalid build file")
