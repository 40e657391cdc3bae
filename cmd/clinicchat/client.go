package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/api"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/config"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
)

type apiClient struct {
	baseURL string
	token   string
	// session is sent as X-Session-ID so CLI calls share one chat history.
	session    string
	httpClient *http.Client
}

// errNoToken is returned by management calls when no API token is configured.
var errNoToken = errors.New("server.api_token is not set; the management API is disabled")

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   cfg.Server.APIToken,
		session: cliSession,
		httpClient: &http.Client{
			// Answers wait on the model.
			Timeout: 5 * time.Minute,
			// Form endpoints answer with a redirect to the UI.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.session != "" {
		req.Header.Set(api.SessionHeader, c.session)
	}
	return req, nil
}

func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is clinicchat running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// uploadFile posts path as the "file" field of a multipart form.
func (c *apiClient) uploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	return expectRedirect(resp)
}

// postForm calls a form endpoint that answers with a redirect.
func (c *apiClient) postForm(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	return expectRedirect(resp)
}

func expectRedirect(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusSeeOther || resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}

type askReply struct {
	Response  string `json:"response"`
	RequestID string `json:"request_id"`
}

func (c *apiClient) ask(ctx context.Context, message, requestID string) (askReply, error) {
	var out askReply
	resp, err := c.post(ctx, "/ask", map[string]string{"message": message, "request_id": requestID})
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

type historyPage struct {
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
	Records []storage.ChatRecord `json:"records"`
}

func (c *apiClient) history(ctx context.Context, limit, offset int) (historyPage, error) {
	var page historyPage
	if c.token == "" {
		return page, errNoToken
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	resp, err := c.get(ctx, "/api/history?"+q.Encode())
	if err != nil {
		return page, err
	}
	err = decodeJSON(resp, &page)
	return page, err
}

// activeFile returns the current file name, or "" when none is uploaded.
func (c *apiClient) activeFile(ctx context.Context) (string, error) {
	if c.token == "" {
		return "", errNoToken
	}
	resp, err := c.get(ctx, "/api/file")
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return "", nil
	}
	var f storage.ActiveFile
	if err := decodeJSON(resp, &f); err != nil {
		return "", err
	}
	return f.Filename, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
