package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a failing response is read when looking
// for a provider error envelope.
const maxErrorBody = 1 << 20

// postJSON sends payload to url and decodes the success response into
// out. On HTTP errors the body is handed to errMessage so each provider
// can surface its own error envelope; an empty result falls back to the
// HTTP status line.
func postJSON(ctx context.Context, hc *http.Client, url, bearer string, payload, out any, provider string, errMessage func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if errMessage != nil {
			if msg := errMessage(raw); msg != "" {
				return fmt.Errorf("%s api error: %s", provider, msg)
			}
		}
		return fmt.Errorf("%s api error: %s", provider, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
