package service

import (
	"fmt"
	"strings"

	"github.com/ayo6706/fraudflow/internal/domain"
)

// transferTransitions lists the allowed settlement moves. The empty state is
// a transfer that does not exist yet. A FAILED_RETRYABLE self-loop records a
// failed replay that never reached the ledger.
var transferTransitions = map[string]map[string]struct{}{
	"": {
		domain.TransferStatusProcessing: {},
	},
	domain.TransferStatusProcessing: {
		domain.TransferStatusProcessing:      {},
		domain.TransferStatusApplied:         {},
		domain.TransferStatusFailedRetryable: {},
	},
	domain.TransferStatusFailedRetryable: {
		domain.TransferStatusProcessing:      {},
		domain.TransferStatusFailedRetryable: {},
	},
	domain.TransferStatusApplied: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := transferTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

func requireTransition(current, next string) error {
	if !canTransition(current, next) {
		return fmt.Errorf("invalid transfer state transition: %q -> %q", current, next)
	}
	return nil
}
