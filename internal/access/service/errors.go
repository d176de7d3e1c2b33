package service

import (
	"errors"
	"fmt"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

var (
	// ErrInvalidCredential is returned for a malformed scan payload. It is
	// never retried.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrStoreUnavailable means the policy could not be evaluated. Callers
	// must fail closed: no ADMIT and no DENY is reported for it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartialCommit means a unit of work failed and its rollback failed
	// too, so stored state may be inconsistent and needs an operator.
	ErrPartialCommit = errors.New("partial commit")

	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotAVisitor is returned when desk registration names a document
	// that belongs to an enrolled member.
	ErrNotAVisitor = errors.New("document belongs to a registered member")
)

// DenialReason is the machine-readable code of a policy denial. Denials are
// normal outcomes, not errors.
type DenialReason string

const (
	ReasonPersonNotRegistered    DenialReason = "PERSON_NOT_REGISTERED"
	ReasonAccessDeniedInactive   DenialReason = "ACCESS_DENIED_INACTIVE"
	ReasonQRExpired              DenialReason = "QR_EXPIRED"
	ReasonQRRequiresReissue      DenialReason = "QR_REQUIRES_REISSUE"
	ReasonCredentialRoleMismatch DenialReason = "CREDENTIAL_ROLE_MISMATCH"
	ReasonOutOfSchedule          DenialReason = "OUT_OF_SCHEDULE"
	ReasonCapacityExceeded       DenialReason = "CAPACITY_EXCEEDED"
)

var reasonMessages = map[DenialReason]string{
	ReasonPersonNotRegistered:    "no person is registered with this document",
	ReasonAccessDeniedInactive:   "person is not active",
	ReasonQRExpired:              "visitor credential has expired",
	ReasonQRRequiresReissue:      "credential already used for a prior visit",
	ReasonCredentialRoleMismatch: "credential kind does not match the registered role",
	ReasonOutOfSchedule:          "outside the allowed schedule",
	ReasonCapacityExceeded:       "assigned environment is at capacity",
}

func (r DenialReason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// unavailable wraps a store error met while evaluating policy.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// classifyUnitError maps the error returned by a Ledger unit onto the
// service taxonomy.
func classifyUnitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRollbackFailed):
		return fmt.Errorf("%w: %w", ErrPartialCommit, err)
	case errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNotAVisitor),
		errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		// Includes a cancelled or timed-out context.
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
