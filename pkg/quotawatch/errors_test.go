package quotawatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFailedWrapping(t *testing.T) {
	err := ParseFailed("no usage lines in %d bytes", 42)
	assert.True(t, errors.Is(err, ErrParseFailed))
	assert.Equal(t, "parse failed: no usage lines in 42 bytes", err.Error())
}

func TestExecutionFailedWrapping(t *testing.T) {
	err := ExecutionFailed("exit status %d", 2)
	assert.True(t, errors.Is(err, ErrExecutionFailed))
	assert.False(t, errors.Is(err, ErrParseFailed))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrBinaryNotFound, "binary_not_found"},
		{ErrAuthenticationRequired, "authentication_required"},
		{ErrSessionExpired, "session_expired"},
		{ParseFailed("garbled"), "parse_failed"},
		{ErrTimeout, "timeout"},
		{ErrNoData, "no_data"},
		{ErrUpdateRequired, "update_required"},
		{ErrFolderTrustRequired, "folder_trust_required"},
		{ErrSubscriptionRequired, "subscription_required"},
		{ExecutionFailed("boom"), "execution_failed"},
		{errors.New("anything else"), "execution_failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}
