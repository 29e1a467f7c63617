package codes

// Connection Status Codes
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusBinding       = "binding"
	StatusBound         = "bound"
	StatusUnbinding     = "unbinding"
	StatusBindingFailed = "binding_failed"
	StatusDisabled      = "disabled" // Manually disabled in config
	StatusStopped       = "stopped"
)

// Outbound message outcomes reported back to the queue.
const (
	MsgStatusSent      = "sent"
	MsgStatusExpired   = "expired"
	MsgStatusRejected  = "rejected" // Carrier answered with an error status
	MsgStatusFailed    = "failed"   // Timed out, cancelled or never written
	MsgStatusMalformed = "malformed"
)

// Submission error codes carried in reports.
const (
	ErrorCodeTooLong     = "MSG_TOO_LONG"
	ErrorCodeTimeout     = "MNO_TIMEOUT"
	ErrorCodeUnavailable = "MNO_UNAVAILABLE"
	ErrorCodeSystemError = "SYS_ERR"
)
