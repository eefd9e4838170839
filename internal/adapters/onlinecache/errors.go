package onlinecache

import "errors"

// ErrFileNotFound means the artifact is not (yet) visible on the cache.
var ErrFileNotFound = errors.New("online cache: file not found")
