package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotInitialized is returned by Generate before Initialize has succeeded,
// or after Close.
var ErrNotInitialized = errors.New("engine not initialized")

const defaultTimeout = 5 * time.Minute

// Engine is a handle on the local inference server. It stays unusable until
// Initialize verifies the model weights exist on disk; generation then runs
// against the server's streaming endpoint. The handle is safe for concurrent
// use and Close is idempotent.
type Engine struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	ready  bool
	closed bool
}

func New(baseURL, model string, logger *zap.Logger) *Engine {
	return &Engine{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// Initialize marks the engine usable after checking the weights file is
// present and plausibly sized. minSize guards against a truncated download
// being loaded as a model.
func (e *Engine) Initialize(modelPath string, minSize int64) error {
	info, err := os.Stat(modelPath)
	if err != nil {
		return fmt.Errorf("model weights: %w", err)
	}
	if info.Size() < minSize {
		return fmt.Errorf("model weights truncated: %d bytes", info.Size())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrNotInitialized
	}
	e.ready = true
	if e.logger != nil {
		e.logger.Info("engine initialized",
			zap.String("model", e.model),
			zap.Int64("weights_bytes", info.Size()))
	}
	return nil
}

// Ready reports whether Generate can be called.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && !e.closed
}

// Close releases the handle. Further Generate calls fail with
// ErrNotInitialized. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.ready = false
	return nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Raw    bool   `json:"raw"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate runs the prompt through the local server and returns the full
// response text. The server streams newline-delimited JSON chunks; pieces
// are concatenated until a chunk with done=true arrives.
func (e *Engine) Generate(ctx context.Context, prompt string) (string, error) {
	if !e.Ready() {
		return "", ErrNotInitialized
	}

	body, err := json.Marshal(generateRequest{
		Model:  e.model,
		Prompt: prompt,
		Raw:    true,
		Stream: true,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: unexpected status %s", resp.Status)
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", errors.New(chunk.Error)
		}
		sb.WriteString(chunk.Response)
		if chunk.Done {
			return sb.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("stream ended without final chunk")
}
