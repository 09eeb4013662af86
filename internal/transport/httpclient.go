package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sesh-im/sesh-go/internal/protocol"
)

// FileServerClient talks to the default encrypted file-storage endpoint.
type FileServerClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ FileServer = (*FileServerClient)(nil)

// NewFileServerClient creates a client for the default file server.
func NewFileServerClient(baseURL string, tlsConf *tls.Config) *FileServerClient {
	return &FileServerClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(tlsConf),
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload stores an (already-encrypted) blob and returns its URL.
func (c *FileServerClient) Upload(ctx context.Context, data []byte) (string, error) {
	body, err := doPost(ctx, c.httpClient, c.baseURL+"/file", data)
	if err != nil {
		return "", fmt.Errorf("fileserver: upload: %w", err)
	}

	var result uploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("fileserver: upload: %w: %v", ErrMalformedResponse, err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("fileserver: upload: %w: missing url", ErrMalformedResponse)
	}
	return result.URL, nil
}

// Download fetches the blob at url.
func (c *FileServerClient) Download(ctx context.Context, url string) ([]byte, error) {
	body, err := doGet(ctx, c.httpClient, url)
	if err != nil {
		return nil, fmt.Errorf("fileserver: download: %w", err)
	}
	return body, nil
}

// CommunityClient talks to one community server. Uploads and downloads
// are plaintext; the community's access model replaces end-to-end
// encryption there.
type CommunityClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Community = (*CommunityClient)(nil)

// NewCommunityClient creates a client for a community server.
func NewCommunityClient(baseURL string, tlsConf *tls.Config) *CommunityClient {
	return &CommunityClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(tlsConf),
	}
}

// Upload stores a plaintext blob in the given room and returns its URL.
func (c *CommunityClient) Upload(ctx context.Context, room string, data []byte) (string, error) {
	body, err := doPost(ctx, c.httpClient, fmt.Sprintf("%s/room/%s/file", c.baseURL, room), data)
	if err != nil {
		return "", fmt.Errorf("community: upload: %w", err)
	}

	var result uploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("community: upload: %w: %v", ErrMalformedResponse, err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("community: upload: %w: missing url", ErrMalformedResponse)
	}
	return result.URL, nil
}

// Download fetches a plaintext blob from the given room.
func (c *CommunityClient) Download(ctx context.Context, room, url string) ([]byte, error) {
	body, err := doGet(ctx, c.httpClient, url)
	if err != nil {
		return nil, fmt.Errorf("community: download: %w", err)
	}
	return body, nil
}

// SwarmClient posts envelopes to the swarm endpoint storing messages for
// a destination account.
type SwarmClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ MessageSender = (*SwarmClient)(nil)

// NewSwarmClient creates a message sender for the swarm at baseURL.
func NewSwarmClient(baseURL string, tlsConf *tls.Config) *SwarmClient {
	return &SwarmClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(tlsConf),
	}
}

// Send delivers env to destination and returns once the swarm acks.
func (c *SwarmClient) Send(ctx context.Context, env *protocol.Envelope, destination string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("swarm: marshal envelope: %w", err)
	}
	if _, err := doPost(ctx, c.httpClient, c.baseURL+"/messages/"+destination, payload); err != nil {
		return fmt.Errorf("swarm: send: %w", err)
	}
	return nil
}

func newHTTPClient(tlsConf *tls.Config) *http.Client {
	client := &http.Client{}
	if tlsConf != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConf}
	}
	return client
}

func doPost(ctx context.Context, client *http.Client, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServerError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func doGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
