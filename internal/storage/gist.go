package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/crypto"
	"github.com/pfrederiksen/events-monitor/internal/event"
)

const (
	gistAPIURL  = "https://api.github.com/gists"
	gistBackend = "gist"
	gistTimeout = 15 * time.Second
)

// GistStore keeps state in a file of a GitHub gist, which lets scheduled CI
// jobs share state without a database
type GistStore struct {
	gistID      string
	githubToken string
	source      string
	apiURL      string
	httpClient  *http.Client
	encryptor   *crypto.Encryptor
}

// NewGistStore creates a gist-backed store. A non-empty encryptionKey
// encrypts the file content.
func NewGistStore(gistID, githubToken, source, encryptionKey string) (*GistStore, error) {
	if gistID == "" {
		return nil, fmt.Errorf("gist ID is required")
	}
	if githubToken == "" {
		return nil, fmt.Errorf("GitHub token is required")
	}

	return &GistStore{
		gistID:      gistID,
		githubToken: githubToken,
		source:      source,
		apiURL:      gistAPIURL,
		httpClient: &http.Client{
			Timeout: gistTimeout,
		},
		encryptor: crypto.NewEncryptor(encryptionKey),
	}, nil
}

// Filename returns the gist file holding the state
func (g *GistStore) Filename() string {
	return StateName(g.source) + ".json"
}

func (g *GistStore) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/%s", g.apiURL, g.gistID)

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s", g.githubToken))
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Load retrieves the state file from the gist. A missing file is an absent state.
func (g *GistStore) Load(ctx context.Context) (*event.PersistedState, error) {
	req, err := g.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return readCorrupt(gistBackend, g.source, err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return readCorrupt(gistBackend, g.source, fmt.Errorf("fetching gist: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		// Don't include response body in error to prevent information leakage
		return readCorrupt(gistBackend, g.source, fmt.Errorf("GitHub API error (status %d)", resp.StatusCode))
	}

	var gistResp struct {
		Files map[string]struct {
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gistResp); err != nil {
		return readCorrupt(gistBackend, g.source, fmt.Errorf("decoding gist response: %w", err))
	}

	file, exists := gistResp.Files[g.Filename()]
	if !exists {
		return event.NewState(g.source), nil
	}

	content := []byte(file.Content)
	if g.encryptor != nil && len(bytes.TrimSpace(content)) > 0 {
		content, err = g.encryptor.Decrypt(file.Content)
		if err != nil {
			return readCorrupt(gistBackend, g.source, fmt.Errorf("decrypting state: %w", err))
		}
	}

	return decodeState(gistBackend, g.source, content)
}

// Save replaces the state file in the gist
func (g *GistStore) Save(ctx context.Context, state *event.PersistedState) error {
	data, err := encodeState(gistBackend, state)
	if err != nil {
		return err
	}

	content := string(data)
	if g.encryptor != nil {
		content, err = g.encryptor.Encrypt(data)
		if err != nil {
			return writeFailed(gistBackend, fmt.Errorf("encrypting state: %w", err))
		}
	}

	payload := map[string]interface{}{
		"files": map[string]interface{}{
			g.Filename(): map[string]string{
				"content": content,
			},
		},
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return writeFailed(gistBackend, fmt.Errorf("marshaling payload: %w", err))
	}

	req, err := g.newRequest(ctx, http.MethodPatch, payloadBytes)
	if err != nil {
		return writeFailed(gistBackend, err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return writeFailed(gistBackend, fmt.Errorf("updating gist: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return writeFailed(gistBackend, fmt.Errorf("GitHub API error (status %d)", resp.StatusCode))
	}

	return nil
}

// Close is a no-op for gists
func (g *GistStore) Close() error {
	return nil
}
