package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Session and authentication errors
	ErrAccountNotFound      = fmt.Errorf("account not found")
	ErrAccountInactive      = fmt.Errorf("account inactive")
	ErrInvalidCredentials   = fmt.Errorf("invalid credentials")
	ErrChallengeRequired    = fmt.Errorf("challenge required")
	ErrNoPendingChallenge   = fmt.Errorf("no pending challenge")
	ErrSessionRestoreFailed = fmt.Errorf("session restore failed")
	ErrUnknownAuthFailure   = fmt.Errorf("unknown authentication failure")

	// Task lifecycle errors
	ErrTaskNotFound   = fmt.Errorf("task not found")
	ErrInvalidState   = fmt.Errorf("invalid task state")
	ErrNotDue         = fmt.Errorf("task not due")
	ErrPublishFailed  = fmt.Errorf("publish failed")
	ErrProxyNotFound  = fmt.Errorf("proxy not found")
	ErrDuplicateEntry = fmt.Errorf("duplicate entry")

	// ErrDuplicateUsername is returned when an account with the same username already exists.
	ErrDuplicateUsername = fmt.Errorf("%w: username already registered", ErrDuplicateEntry)

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
