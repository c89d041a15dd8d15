// Package e2e drives black-box scenarios against a running guestgate server.
// Point GUESTGATE_E2E_BASE_URL at the server and supply a guest bearer token
// via GUESTGATE_E2E_TOKEN (the dev server logs a freshly minted one at boot);
// the suite skips itself when either is missing.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// TestContext carries the HTTP client, the bearer token, and the last
// response between the steps of one scenario.
type TestContext struct {
	baseURL string
	token   string
	client  *http.Client

	// authToken is the token attached to outgoing requests. It starts as a
	// copy of token and is emptied by the "I have no bearer token" step.
	authToken string

	lastStatus int
	lastBody   map[string]interface{}

	sessionID string
}

// NewTestContext builds a context for one suite run. Scenario isolation
// comes from Reset, called by the Before hook.
func NewTestContext(baseURL, token string) *TestContext {
	return &TestContext{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset returns the context to its pre-scenario state.
func (tc *TestContext) Reset() {
	tc.authToken = tc.token
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.sessionID = ""
}

// ClearToken drops the bearer token for the rest of the scenario.
func (tc *TestContext) ClearToken() {
	tc.authToken = ""
}

// SessionID returns the session captured by the last session-start step.
func (tc *TestContext) SessionID() string {
	return tc.sessionID
}

// SetSessionID records the session the following steps operate on.
func (tc *TestContext) SetSessionID(id string) {
	tc.sessionID = id
}

// SessionPath builds a path under the current session, e.g.
// SessionPath("/score") -> /v1/sessions/<id>/score.
func (tc *TestContext) SessionPath(suffix string) string {
	return "/v1/sessions/" + tc.sessionID + suffix
}

// GET issues a GET request and captures the response.
func (tc *TestContext) GET(path string) error {
	return tc.send(http.MethodGet, path, "", nil)
}

// DELETE issues a DELETE request and captures the response.
func (tc *TestContext) DELETE(path string) error {
	return tc.send(http.MethodDelete, path, "", nil)
}

// POST issues a POST request with an optional JSON body.
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.sendJSON(http.MethodPost, path, body)
}

// PATCH issues a PATCH request with a JSON body.
func (tc *TestContext) PATCH(path string, body interface{}) error {
	return tc.sendJSON(http.MethodPatch, path, body)
}

// POSTImages uploads each named part as a small PNG payload. The server
// sniffs magic bytes only, so a header-sized payload is enough.
func (tc *TestContext) POSTImages(path string, parts ...string) error {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, part := range parts {
		fw, err := writer.CreateFormFile(part, part+".png")
		if err != nil {
			return fmt.Errorf("create part %s: %w", part, err)
		}
		if _, err := fw.Write(png); err != nil {
			return fmt.Errorf("write part %s: %w", part, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}
	return tc.send(http.MethodPost, path, writer.FormDataContentType(), &buf)
}

func (tc *TestContext) sendJSON(method, path string, body interface{}) error {
	if body == nil {
		return tc.send(method, path, "application/json", nil)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	return tc.send(method, path, "application/json", bytes.NewReader(payload))
}

func (tc *TestContext) send(method, path, contentType string, body io.Reader) error {
	req, err := http.NewRequest(method, tc.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.authToken)
	}

	res, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	tc.lastStatus = res.StatusCode
	tc.lastBody = nil

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(payload) > 0 {
		// Non-JSON bodies stay out of lastBody; steps only assert on JSON.
		_ = json.Unmarshal(payload, &tc.lastBody)
	}
	return nil
}

// LastStatusCode returns the status code of the last response.
func (tc *TestContext) LastStatusCode() int {
	return tc.lastStatus
}

// GetResponseField resolves a dotted path such as "form.data.email" or
// "score.level" inside the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	if tc.lastBody == nil {
		return nil, fmt.Errorf("no JSON response captured")
	}
	var current interface{} = tc.lastBody
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: segment %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q is missing from the response", field)
		}
	}
	return current, nil
}

// ResponseContains reports whether the dotted path resolves in the last
// JSON response.
func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}
