package ledger

import (
	"errors"
	"strings"
)

var (
	// ErrTransient marks network failures and timeouts. Safe to retry.
	ErrTransient = errors.New("transient ledger failure")

	// ErrNonceConflict marks an ordering counter the ledger no longer accepts.
	// Retryable with a fresh counter.
	ErrNonceConflict = errors.New("ordering counter conflict")

	// ErrNoSigner is returned when the writer holds no key for an identity.
	ErrNoSigner = errors.New("no signing key for identity")
)

// RejectedError is a ledger refusal. Not retryable without changing inputs.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "rejected by ledger"
	}
	return "rejected by ledger: " + e.Reason
}

// IsRejected reports whether err is a ledger rejection and returns its reason.
func IsRejected(err error) (string, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Classify maps a provider error message onto the ledger failure taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNonceConflict) || errors.Is(err, ErrTransient) {
		return err
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "invalid nonce"):
		return errors.Join(ErrNonceConflict, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "gas required exceeds"),
		strings.Contains(msg, "transaction reverted"):
		return &RejectedError{Reason: revertReason(err.Error())}
	}
	return errors.Join(ErrTransient, err)
}

// revertReason strips transport prefixes so callers see the contract's message.
func revertReason(msg string) string {
	if i := strings.Index(strings.ToLower(msg), "execution reverted"); i >= 0 {
		reason := strings.TrimSpace(msg[i+len("execution reverted"):])
		reason = strings.TrimPrefix(reason, ":")
		if r := strings.TrimSpace(reason); r != "" {
			return r
		}
		return "execution reverted"
	}
	if i := strings.Index(msg, "rpc error: "); i >= 0 {
		return msg[i+len("rpc error: "):]
	}
	return msg
}
