package model

import "errors"

var (
	ErrInvalidPriority        = errors.New("invalid priority")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrCapacityExceeded       = errors.New("timer capacity exceeded")
	ErrUnknownItem            = errors.New("unknown item")
	ErrDuplicateItem          = errors.New("duplicate item")
	ErrSubscriberBackpressure = errors.New("subscriber backpressure")
	ErrClosed                 = errors.New("orchestrator closed")
	ErrConfigParse            = errors.New("config parse failed")
)
