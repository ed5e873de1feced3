package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

const captionPrompt = "Describe the contents of this image in a short comma-separated list of labels."

// Captioner turns an image file into a short text description.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

// VisionCaptioner captions images through the local server's vision model.
// Responses are requested unstreamed; a caption is one small payload.
type VisionCaptioner struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewVisionCaptioner(baseURL, model string) *VisionCaptioner {
	return &VisionCaptioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type captionRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type captionResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Caption implements Captioner.
func (c *VisionCaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	body, err := json.Marshal(captionRequest{
		Model:  c.model,
		Prompt: captionPrompt,
		Images: []string{base64.StdEncoding.EncodeToString(raw)},
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("caption: unexpected status %s", resp.Status)
	}

	var out captionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("caption: %s", out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}
