package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	oerrors "github.com/porthorian/dashauth/pkg/errors"
)

// postJSON posts body to path and decodes a 2xx answer into out. Non-2xx
// answers come back as backend_rejected errors carrying the status; transport
// failures and timeouts as network_unavailable.
func (c *Client) postJSON(ctx context.Context, path string, bearer string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return oerrors.Wrap(oerrors.CodeUnknown, "failed to encode request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), reader)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.V(1).Info("backend request failed", "path", path, "error", err.Error())
		return oerrors.Wrap(oerrors.CodeNetworkUnavailable, "backend is unreachable, try again", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return oerrors.Wrap(oerrors.CodeNetworkUnavailable, "failed to read backend response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.V(1).Info("backend rejected request", "path", path, "status", resp.StatusCode)
		return oerrors.WithStatus(oerrors.CodeBackendRejected, rejectionMessage(resp.StatusCode, raw), resp.StatusCode)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return oerrors.New(oerrors.CodeBackendRejected, "backend returned an empty response")
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return oerrors.Wrap(oerrors.CodeBackendRejected, "backend returned a malformed response", err)
	}
	return nil
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func rejectionMessage(status int, raw []byte) string {
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("backend returned %d %s", status, http.StatusText(status))
}
