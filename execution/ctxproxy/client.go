package ctxproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// EnvSocketURL is the environment variable the parent advertises the proxy
// endpoint in.
const EnvSocketURL = "CTX_SOCKET_URL"

// ErrStopOperation is returned when the parent answered stop_operation. The
// calling process should abort the operation and exit non-zero.
var ErrStopOperation = fmt.Errorf("stop operation requested")

// RemoteError is an "error" response decoded from the wire.
type RemoteError struct {
	Type      string
	Message   string
	Traceback string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Client calls back into the parent context from an operation subprocess.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the given proxy URL. An empty url falls
// back to CTX_SOCKET_URL.
func NewClient(url string, timeout time.Duration) (*Client, error) {
	if url == "" {
		url = os.Getenv(EnvSocketURL)
	}
	if url == "" {
		return nil, fmt.Errorf("no proxy url: set %s or pass --socket-url", EnvSocketURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Call posts one command and returns the ok payload. Error responses come
// back as *RemoteError, stop_operation as ErrStopOperation.
func (c *Client) Call(ctx context.Context, args ...any) (any, error) {
	body, err := json.Marshal(Request{Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ctx proxy: %w", err)
	}
	defer httpResp.Body.Close()

	var resp struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch resp.Type {
	case TypeOK:
		var payload any
		if len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		return payload, nil
	case TypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode error payload: %w", err)
		}
		return nil, &RemoteError{Type: payload.Type, Message: payload.Message, Traceback: payload.Traceback}
	case TypeStopOperation:
		return nil, ErrStopOperation
	default:
		return nil, fmt.Errorf("unknown response type %q", resp.Type)
	}
}
