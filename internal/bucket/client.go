package bucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"

	"github.com/local/imagetext/internal/ai"
)

// Client uploads and downloads files in the caller's DIAL bucket. Uploaded
// files are referenced in chat messages as attachments; image-generation
// deployments write their output to the same bucket.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string

	mu     sync.Mutex
	bucket string // cached bucket id
}

func New(baseURL, apiKey string) *Client {
	return &Client{http: &http.Client{}, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// bucketID fetches and caches the caller's bucket identifier.
func (c *Client) bucketID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bucket != "" {
		return c.bucket, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/bucket", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bucket lookup: status %d", resp.StatusCode)
	}

	var out struct {
		Bucket string `json:"bucket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode bucket response: %w", err)
	}
	if out.Bucket == "" {
		return "", fmt.Errorf("bucket lookup: empty bucket id")
	}
	c.bucket = out.Bucket
	return c.bucket, nil
}

// PutFile uploads content under the given name and returns the attachment
// to reference it with.
func (c *Client) PutFile(ctx context.Context, name, mime string, content io.Reader) (ai.Attachment, error) {
	bucket, err := c.bucketID(ctx)
	if err != nil {
		return ai.Attachment{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	hdr.Set("Content-Type", mime)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return ai.Attachment{}, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return ai.Attachment{}, err
	}
	if err := mw.Close(); err != nil {
		return ai.Attachment{}, err
	}

	target := fmt.Sprintf("%s/v1/files/%s/%s", c.baseURL, bucket, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, &body)
	if err != nil {
		return ai.Attachment{}, err
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return ai.Attachment{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return ai.Attachment{}, fmt.Errorf("put file: status %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ai.Attachment{}, fmt.Errorf("decode put response: %w", err)
	}
	if out.URL == "" {
		out.URL = fmt.Sprintf("files/%s/%s", bucket, url.PathEscape(name))
	}
	return ai.Attachment{Title: name, URL: out.URL, Type: mime}, nil
}

// GetFile downloads a bucket file by its attachment URL. Relative URLs are
// resolved against the DIAL base.
func (c *Client) GetFile(ctx context.Context, fileURL string) ([]byte, error) {
	if !strings.HasPrefix(fileURL, "http://") && !strings.HasPrefix(fileURL, "https://") {
		fileURL = fmt.Sprintf("%s/v1/%s", c.baseURL, strings.TrimLeft(fileURL, "/"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
