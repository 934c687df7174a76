package license

import "time"

// Reason tags the outcome of a validation attempt. Only the first
// failing check in the gate sequence is reported.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidFormat      Reason = "invalid_format"
	ReasonNotFound           Reason = "not_found"
	ReasonEmailMismatch      Reason = "email_mismatch"
	ReasonRevoked            Reason = "revoked"
	ReasonExpired            Reason = "expired"
	ReasonDeviceLimitReached Reason = "device_limit_reached"
	ReasonStoreUnreachable   Reason = "store_unreachable"
)

// reasonMessages are the user-visible texts for each failure.
var reasonMessages = map[Reason]string{
	ReasonInvalidFormat:      "The license key format is not valid.",
	ReasonNotFound:           "No license was found for this key.",
	ReasonEmailMismatch:      "This license key was issued to a different email address.",
	ReasonRevoked:            "This license has been revoked. Contact support.",
	ReasonExpired:            "This license has expired.",
	ReasonDeviceLimitReached: "This license is already in use on the maximum number of devices.",
	ReasonStoreUnreachable:   "The license service is unreachable and no local copy exists. Check your connection.",
}

// Result is the outcome of EntitlementManager.Validate. All-or-nothing:
// Valid is true only when every gate passed and a session exists.
type Result struct {
	Valid      bool       `json:"valid"`
	Tier       string     `json:"tier,omitempty"`
	Token      string     `json:"token,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	// TierLimits is set only on success; failure results carry no
	// entitlement data.
	TierLimits *TierLimits `json:"tier_limits,omitempty"`
	Reason     Reason     `json:"reason,omitempty"`
	Message    string     `json:"message"`
	// Offline is set when the answer came from the local mirror
	// because the primary store was unreachable.
	Offline bool `json:"offline,omitempty"`
}

// deny builds a failure result for the given reason.
func deny(reason Reason) Result {
	return Result{
		Valid:   false,
		Reason:  reason,
		Message: reasonMessages[reason],
	}
}
