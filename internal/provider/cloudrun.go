package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type cloudRunRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
}

type cloudRunResponse struct {
	Text          string `json:"text"`
	ExtractedText string `json:"extractedText"`
	Result        string `json:"result"`
	Error         string `json:"error"`
}

func (r cloudRunResponse) firstText() string {
	for _, s := range []string{r.Text, r.ExtractedText, r.Result} {
		if s != "" {
			return s
		}
	}
	return ""
}

// CloudRun calls a self-hosted OCR service over HTTP.
type CloudRun struct {
	url    string
	token  string
	client *http.Client
}

func NewCloudRun(url, token string, timeout time.Duration) *CloudRun {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CloudRun{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *CloudRun) Name() string { return "cloudrun" }

func (p *CloudRun) Extract(ctx context.Context, img Image) (string, error) {
	body, err := json.Marshal(cloudRunRequest{
		Image:    base64.StdEncoding.EncodeToString(img.Data),
		MIMEType: img.MIMEType,
	})
	if err != nil {
		return "", wrap(p.Name(), "encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", wrap(p.Name(), "request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", wrap(p.Name(), "request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", wrap(p.Name(), "read response", err)
	}

	var out cloudRunResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return "", wrap(p.Name(), "request", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", wrap(p.Name(), "decode response", err)
	}

	return nonEmpty(p.Name(), out.firstText())
}
