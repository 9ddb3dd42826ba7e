package quotawatch

import (
	"errors"
	"fmt"
)

// Probe failures form a closed taxonomy. Probes translate every upstream
// failure mode into one of these values at the boundary, so callers can
// branch with errors.Is instead of string matching. Failures that carry a
// reason wrap ErrParseFailed or ErrExecutionFailed and keep errors.Is intact.
var (
	// ErrBinaryNotFound is returned when the provider's CLI binary is not on the PATH
	ErrBinaryNotFound = errors.New("binary not found")

	// ErrAuthenticationRequired is returned when no credential is available or the backend rejects it
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrSessionExpired is returned when a previously valid login needs to be renewed
	ErrSessionExpired = errors.New("session expired")

	// ErrParseFailed is returned when backend output could not be decoded
	ErrParseFailed = errors.New("parse failed")

	// ErrTimeout is returned when a probe exceeded its deadline
	ErrTimeout = errors.New("probe timed out")

	// ErrNoData is returned when the backend answered but reported no usable quotas
	ErrNoData = errors.New("no usage data")

	// ErrUpdateRequired is returned when the CLI refuses to run until it is updated
	ErrUpdateRequired = errors.New("update required")

	// ErrFolderTrustRequired is returned when the CLI blocks on a folder trust prompt
	ErrFolderTrustRequired = errors.New("folder trust required")

	// ErrExecutionFailed is returned for process or transport failures
	ErrExecutionFailed = errors.New("execution failed")

	// ErrSubscriptionRequired is returned when the account's plan has no quota to report
	ErrSubscriptionRequired = errors.New("subscription required")
)

// ParseFailed wraps ErrParseFailed with a reason
func ParseFailed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrParseFailed}, args...)...)
}

// ExecutionFailed wraps ErrExecutionFailed with a reason
func ExecutionFailed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrExecutionFailed}, args...)...)
}

// ErrorCode returns a stable snake_case code for a probe error, used in
// events, metrics labels and API payloads. Errors outside the taxonomy
// map to "execution_failed".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBinaryNotFound):
		return "binary_not_found"
	case errors.Is(err, ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrParseFailed):
		return "parse_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrUpdateRequired):
		return "update_required"
	case errors.Is(err, ErrFolderTrustRequired):
		return "folder_trust_required"
	case errors.Is(err, ErrSubscriptionRequired):
		return "subscription_required"
	default:
		return "execution_failed"
	}
}
