package service

import "errors"

var (
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrFactNotFound        = errors.New("transaction not found")
	ErrDecisionNotFound    = errors.New("decision not found")
	ErrInvalidLabel        = errors.New("label must be 0 or 1")
	ErrOutboxEntryNotFound = errors.New("failed outbox entry not found")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrInvalidSettlement   = errors.New("decision cannot be settled")
)
