package quotawatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps how much of an HTTP response a probe will read.
const maxResponseBody = 1 << 20

// HTTPRequest describes a single authenticated GET request issued by a probe.
type HTTPRequest struct {
	URL     string
	Header  http.Header
	Timeout time.Duration
}

// HTTPResponse carries the status code and the (size-capped) response body.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// HTTPClient is the narrow HTTP capability handed to API probes. Probes only
// ever issue GET requests; keeping the interface this small makes probes
// trivial to test with a fake.
type HTTPClient interface {
	Get(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}

// NewHTTPClient returns an HTTPClient backed by net/http. The timeout is the
// default per-request deadline, overridable per request.
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &httpClient{client: &http.Client{Timeout: timeout}}
}

type httpClient struct {
	client *http.Client
}

func (c *httpClient) Get(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return HTTPResponse{}, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return HTTPResponse{}, err
	}
	return HTTPResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// TranslateHTTPError converts a transport error into the probe taxonomy.
func TranslateHTTPError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ExecutionFailed("request: %v", err)
}

// CheckHTTPStatus converts a non-200 response into the probe taxonomy. 401
// means the credential was rejected; 403 and 404 usually mean the endpoint
// moved or the token type cannot access it, so the message says that.
func CheckHTTPStatus(resp HTTPResponse) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrAuthenticationRequired
	case http.StatusForbidden, http.StatusNotFound:
		return ExecutionFailed("endpoint returned %d, the API may have changed or the token type cannot access it", resp.StatusCode)
	default:
		return ExecutionFailed("unexpected status %d", resp.StatusCode)
	}
}
