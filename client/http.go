package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"Launchpad/internal/api"
)

// APIError is a request rejected by the node.
type APIError struct {
	Status  int    // Status is the HTTP status code
	Code    string // Code is the error kind, e.g. "AlreadyClaimed"
	Message string // Message is the node's error text
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}

	return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
}

// httpGet performs a GET request and decodes the JSON response.
func httpGet(hc *http.Client, url string, result any) error {
	resp, err := hc.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpGetRaw performs a GET request and returns the response body.
func httpGetRaw(hc *http.Client, url string) ([]byte, error) {
	resp, err := hc.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s:\n%w", url, err)
	}

	return data, nil
}

// httpPostJSON posts a JSON body with extra headers and decodes the JSON response.
func httpPostJSON(hc *http.Client, url string, body []byte, header http.Header, result any) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}

	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// checkStatus turns a non-2xx response into an *APIError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}

	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}
