package models

import "github.com/pkg/errors"

var (
	ErrConnection            = errors.New("terminal connection failure")
	ErrInstrumentUnavailable = errors.New("instrument metadata unavailable")
	ErrSizingRejected        = errors.New("cannot size position")
	ErrOrderRejected         = errors.New("order rejected by broker")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPersistence           = errors.New("state persistence failure")
)
