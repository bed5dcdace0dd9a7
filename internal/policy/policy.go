// Package policy declares the failure-mode table for guard operations.
//
// Infrastructure failures during detection (abuse lookups, rate-limit counts,
// classification) allow the request through, because blocking paying users on
// a detection outage is worse than a temporary gap. Failures during anything
// that moves value (credit deduction, coupon reservation, metadata writes)
// deny the request, because undercharging or double-granting cannot be
// undone. The table makes that asymmetry a declared invariant instead of an
// emergent property of scattered error handling.
package policy

// Operation identifies a guard operation with a declared failure mode.
type Operation int

const (
	// OpAbusePolicyLookup is the latest-risk-label lookup before an action.
	OpAbusePolicyLookup Operation = iota
	// OpUsageLimitCheck is the rolling-window request count check.
	OpUsageLimitCheck
	// OpRiskClassify is the LLM risk classification call.
	OpRiskClassify
	// OpCreditDeduct is the atomic credit check-and-deduct.
	OpCreditDeduct
	// OpCouponReserve is the whitelist conditional reservation.
	OpCouponReserve
	// OpMetadataWrite is the bypass-metadata stamp after redemption.
	OpMetadataWrite
)

// FailureMode describes how an operation behaves when its backing
// infrastructure fails.
type FailureMode int

const (
	// FailOpen allows the request despite the failure.
	FailOpen FailureMode = iota
	// FailClosed denies the request on failure.
	FailClosed
)

var failureModes = map[Operation]FailureMode{
	OpAbusePolicyLookup: FailOpen,
	OpUsageLimitCheck:   FailOpen,
	OpRiskClassify:      FailOpen,
	OpCreditDeduct:      FailClosed,
	OpCouponReserve:     FailClosed,
	OpMetadataWrite:     FailClosed,
}

// FailureModeFor returns the declared failure mode for an operation.
// Unknown operations fail closed.
func FailureModeFor(op Operation) FailureMode {
	mode, ok := failureModes[op]
	if !ok {
		return FailClosed
	}
	return mode
}

// FailsOpen reports whether an operation allows requests on infra failure.
func FailsOpen(op Operation) bool {
	return FailureModeFor(op) == FailOpen
}
