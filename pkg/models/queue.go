package models

// DeadLetterReason describes why a job landed in the dead letter queue
type DeadLetterReason string

const (
	// DLQReasonMaxRetries means the job exhausted its retry budget
	DLQReasonMaxRetries DeadLetterReason = "max_retries"
	// DLQReasonInvalid means the job message could not be parsed or validated
	DLQReasonInvalid DeadLetterReason = "invalid_message"
)
