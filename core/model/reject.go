package model

import (
	"errors"
	"fmt"
)

// Reason is the typed rejection code carried by every refused dispatcher
// action. Callers never see a generic failure.
type Reason string

const (
	ReasonCapacityExceeded         Reason = "CapacityExceeded"
	ReasonDutyTimeInsufficient     Reason = "DutyTimeInsufficient"
	ReasonWindowUnreachable        Reason = "WindowUnreachable"
	ReasonEquipmentMissing         Reason = "EquipmentMissing"
	ReasonNoEligibleCandidate      Reason = "NoEligibleCandidate"
	ReasonAlreadyOffered           Reason = "AlreadyOffered"
	ReasonInvalidTransition        Reason = "InvalidTransition"
	ReasonReoptimizationInfeasible Reason = "ReoptimizationInfeasible"
	ReasonNoteRequired             Reason = "NoteRequired"
	ReasonUnknownEntity            Reason = "UnknownEntity"
	ReasonStoreDegraded            Reason = "StoreDegraded"
	ReasonValidationFailed         Reason = "ValidationFailed"
	ReasonVersionConflict          Reason = "VersionConflict"
)

// Rejection is the error type for refused operations. The reason code is
// stable and machine-readable; Detail is free text for humans.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Reject builds a Rejection with a formatted detail message.
func Reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err, or an empty Reason when
// err is not a Rejection.
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}
