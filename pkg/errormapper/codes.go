package errormapper

const (
	// Routing & Validation Failures
	ErrorCodeNoRoute           = "NO_ROUTE"
	ErrorCodeInvalidSenderID   = "INVALID_SENDER"
	ErrorCodeValidationFailure = "VALIDATION_FAIL" // Generic validation failure
	ErrorCodeInvalidMSISDN     = "INVALID_MSISDN"
	ErrorCodeThrottled         = "THROTTLED"

	// Submission/MNO Failures (MNO-specific codes can be passed through)
	ErrorCodeMnoUnavailable = "MNO_UNAVAILABLE" // Cannot connect or no bound session
	ErrorCodeMnoSubmitFail  = "MNO_SUBMIT_FAIL" // Generic MNO rejection during submit_sm
	ErrorCodeMnoTimeout     = "MNO_TIMEOUT"
	ErrorCodeExpired        = "EXPIRED_BEFORE_SEND"

	// System Errors
	ErrorCodeSystemError = "SYS_ERR" // General internal error
	ErrorCodeQueueError  = "QUEUE_ERR"
	ErrorCodeConfigError = "CONFIG_ERR"

	// Receipt stat values (7 characters on the wire)
	StatusCodeDelivered     = "DELIVRD"
	StatusCodeAccepted      = "ACCEPTD" // e.g., Accepted by MNO
	StatusCodeUnknown       = "UNKNOWN"
	StatusCodeRejected      = "REJECTD" // Rejected by us or MNO
	StatusCodeExpired       = "EXPIRED"
	StatusCodeDeleted       = "DELETED"
	StatusCodeUndeliverable = "UNDELIV"
)
