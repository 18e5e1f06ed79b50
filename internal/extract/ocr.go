package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/filegate/service/internal/apperr"
)

// OCRClient calls an external OCR service for image content. The service
// accepts a multipart upload on /v1/ocr and answers {"text": "..."}.
type OCRClient struct {
	endpoint string
	client   *http.Client
}

func NewOCRClient(endpoint string, timeout time.Duration) *OCRClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OCRClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Recognize submits image bytes and returns the recognized text.
func (c *OCRClient) Recognize(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "encode ocr request", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "encode ocr request", err)
	}
	if err := mw.Close(); err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "encode ocr request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/ocr", &body)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "build ocr request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "call ocr service", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.CodeExtractionFailed, fmt.Sprintf("ocr service returned %d", resp.StatusCode))
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperr.Wrap(apperr.CodeExtractionFailed, "decode ocr response", err)
	}
	return result.Text, nil
}
