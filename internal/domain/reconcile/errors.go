package reconcile

import "errors"

var ErrMissingDependency = errors.New("reconciler needs a cache and a source")
