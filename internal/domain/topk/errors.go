package topk

import "errors"

var (
	ErrInvalidK          = errors.New("k must be at least 1")
	ErrInvalidUpdate     = errors.New("invalid score update")
	ErrNotFound          = errors.New("user not ranked")
	ErrRebuildInProgress = errors.New("rebuild already in progress")
)
