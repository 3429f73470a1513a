package domain

import "errors"

var (
	ErrRelayerUnavailable = errors.New("relayer_unavailable")
	ErrRelayerRejected    = errors.New("relayer_rejected")
	ErrInvalidTxHash      = errors.New("invalid_tx_hash")
)

const (
	ReasonStaleLock = "stale_lock"
	ReasonReverted  = "reverted"
)
