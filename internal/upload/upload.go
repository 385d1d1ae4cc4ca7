// Package upload sends attachment bytes to the file service and returns the
// remote URL that replaces the attachment's local reference.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultMimeType is used when the caller does not know the file type.
const DefaultMimeType = "application/octet-stream"

// ErrNoURL is returned when the service accepted the file but its response
// did not name a location.
var ErrNoURL = errors.New("upload response missing url")

// Uploader stores a file and returns its remote URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

type settings struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures an uploader.
type Option func(*settings)

// WithHTTPClient copies settings from c.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		*s.httpClient = *c
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.httpClient.Timeout = d
	}
}

// WithLogger sets the logger for upload outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// logResult reports the outcome of one upload and passes it through.
func logResult(logger *slog.Logger, endpoint, filename string, size int, url string, err error) (string, error) {
	if err != nil {
		logger.Warn("Attachment upload failed", "endpoint", endpoint, "filename", filename, "size", size, "error", err)
		return "", err
	}
	logger.Debug("Attachment uploaded", "endpoint", endpoint, "filename", filename, "size", size, "url", url)
	return url, nil
}

// MultipartUploader posts the file as multipart field "file". The service
// answers {"uuids":[...]} and the first uuid is joined onto FileBaseURL.
type MultipartUploader struct {
	uploadURL   string
	fileBaseURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewMultipart creates a multipart uploader.
func NewMultipart(uploadURL, fileBaseURL string, opts ...Option) *MultipartUploader {
	s := newSettings(opts)
	return &MultipartUploader{
		uploadURL:   uploadURL,
		fileBaseURL: strings.TrimRight(fileBaseURL, "/"),
		httpClient:  s.httpClient,
		logger:      s.logger,
	}
}

// Upload implements Uploader.
func (u *MultipartUploader) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	url, err := u.upload(ctx, data, filename, mimeType)
	return logResult(u.logger, u.uploadURL, filename, len(data), url, err)
}

func (u *MultipartUploader) upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	body, err := post(ctx, u.httpClient, u.uploadURL, mw.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	id := strings.TrimSpace(gjson.GetBytes(body, "uuids.0").String())
	if id == "" {
		return "", fmt.Errorf("upload %s: %w", filename, ErrNoURL)
	}
	if u.fileBaseURL == "" {
		return id, nil
	}
	return u.fileBaseURL + "/" + id, nil
}

// StorageUploader posts the file base64-encoded to the API's storage
// endpoint, which answers {"url": "..."}.
type StorageUploader struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// StorageRequest is the body of POST /api/storage/upload.
type StorageRequest struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

// NewStorage creates an uploader for the storage endpoint under apiBaseURL.
func NewStorage(apiBaseURL string, opts ...Option) *StorageUploader {
	s := newSettings(opts)
	return &StorageUploader{
		endpoint:   strings.TrimRight(apiBaseURL, "/") + "/api/storage/upload",
		httpClient: s.httpClient,
		logger:     s.logger,
	}
}

// Upload implements Uploader.
func (u *StorageUploader) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	url, err := u.store(ctx, data, filename, mimeType)
	return logResult(u.logger, u.endpoint, filename, len(data), url, err)
}

func (u *StorageUploader) store(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	payload, err := json.Marshal(StorageRequest{
		Filename:   filename,
		MimeType:   mimeType,
		DataBase64: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", fmt.Errorf("store %s: marshal: %w", filename, err)
	}

	body, err := post(ctx, u.httpClient, u.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("store %s: %w", filename, err)
	}
	url := strings.TrimSpace(gjson.GetBytes(body, "url").String())
	if url == "" {
		return "", fmt.Errorf("store %s: %w", filename, ErrNoURL)
	}
	return url, nil
}

func post(ctx context.Context, hc *http.Client, url, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
