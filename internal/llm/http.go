package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/PentesterFlow/sitesurvey/internal/errors"
)

const maxErrorBody = 2048

var errEmptyChoices = stderrors.New("response has no content")

// postJSON sends body to endpoint and decodes a 2xx reply into out.
// Transport failures and error statuses come back as categorized errors so
// the retrier can tell transient from permanent.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewParseError(endpoint, "marshal_request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.NewConfigError("llm.api_url", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Categorize(err, endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := errors.CategorizeHTTPStatus(resp.StatusCode, endpoint)
		if statusErr == nil {
			statusErr = errors.NewClientError(endpoint, resp.StatusCode, "unexpected status")
		}
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			statusErr.Message += ": " + msg
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewParseError(endpoint, "decode_response", err)
	}
	return nil
}
