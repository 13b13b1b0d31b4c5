package ledger

import (
	"errors"
	"fmt"

	"github.com/ledgersync/backend/internal/domain/integration"
)

// Errors for the ledger context
var (
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrEntryNotFound       = errors.New("ledger: ledger entry not found")
	ErrAlreadyPosted       = errors.New("ledger: transaction already posted")
	ErrInvalidKind         = errors.New("ledger: invalid transaction kind")
)

// validationError wraps integration.ErrValidation so the orchestrator counts it per record
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", integration.ErrValidation, fmt.Sprintf(format, args...))
}

// unbalancedError wraps integration.ErrUnbalancedPosting
func unbalancedError(debits, credits fmt.Stringer) error {
	return fmt.Errorf("%w: debits %s != credits %s", integration.ErrUnbalancedPosting, debits, credits)
}
