package telephony

import "fmt"

// CheckError is the closed set of inbound validation outcomes. These are
// values, not Go errors: every one of them maps to a fixed caller-audible
// message rendered in the vendor's own markup, so a misconfigured webhook
// degrades into a spoken explanation instead of a raw HTTP failure.
type CheckError string

const (
	CheckValid                     CheckError = "valid"
	CheckWorkflowNotFound          CheckError = "workflow_not_found"
	CheckAccountValidationFailed   CheckError = "account_validation_failed"
	CheckProviderMismatch          CheckError = "provider_mismatch"
	CheckPhoneNumberNotConfigured  CheckError = "phone_number_not_configured"
	CheckSignatureValidationFailed CheckError = "signature_validation_failed"
	CheckQuotaExceeded             CheckError = "quota_exceeded"
	CheckGeneralAuthFailed         CheckError = "general_auth_failed"
)

var checkMessages = map[CheckError]string{
	CheckWorkflowNotFound:          "The requested workflow could not be found.",
	CheckAccountValidationFailed:   "Account validation failed for this call.",
	CheckProviderMismatch:          "This call arrived from an unexpected telephony provider.",
	CheckPhoneNumberNotConfigured:  "The called number is not configured for this account.",
	CheckSignatureValidationFailed: "The request signature could not be verified.",
	CheckQuotaExceeded:             "The call quota for this account has been exhausted.",
	CheckGeneralAuthFailed:         "The call could not be authenticated.",
}

// Message returns the caller-audible text for a validation failure. Unknown
// values fall back to the general authentication message so internals never
// leak into vendor markup.
func (c CheckError) Message() string {
	if msg, ok := checkMessages[c]; ok {
		return msg
	}
	return checkMessages[CheckGeneralAuthFailed]
}

// ProviderAPIError wraps a failed vendor API call with enough context to
// log without losing the original cause.
type ProviderAPIError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error (http %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s api error: %v", e.Provider, e.Err)
}

func (e *ProviderAPIError) Unwrap() error { return e.Err }

// ConfigurationError reports an unusable organization telephony
// configuration: missing document or unrecognized provider discriminant.
type ConfigurationError struct {
	OrganizationID int64
	Reason         string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("telephony configuration for organization %d: %s", e.OrganizationID, e.Reason)
}
