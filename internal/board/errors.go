package board

import "errors"

var (
	ErrOrderNotFound    = errors.New("order not on the board")
	ErrOrderNotFinished = errors.New("only finished orders can be deleted")
	ErrFlushInProgress  = errors.New("pending flush already running")
	ErrNotRunning       = errors.New("board is not running")
)
