// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pinning uploads segment files to the Pinata pinning service and
// lists what has been pinned.
package pinning

import (
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
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
)

// ErrNoCredentials means neither a JWT nor an API key pair is configured.
var ErrNoCredentials = errors.New("pinning credentials not configured")

// Options configures the client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	JWT       string
	APIKey    string
	APISecret string
}

// Client talks to the Pinata HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	jwt       string
	apiKey    string
	apiSecret string
	logger    zerolog.Logger
}

// PinResult is the outcome of one upload.
type PinResult struct {
	CID         string
	Size        int64
	IsDuplicate bool
	PinnedAt    time.Time
}

// Pin is one entry of the pin history.
type Pin struct {
	CID         string    `json:"cid"`
	DisplayName string    `json:"displayName"`
	Size        int64     `json:"size"`
	PinnedAt    time.Time `json:"pinnedAt"`
}

// New creates a client. The HTTP timeout covers the whole upload.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://api.pinata.cloud"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: timeout, Transport: transport},
		jwt:        opts.JWT,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		logger:     log.WithComponent("pinning"),
	}
}

func (c *Client) hasCredentials() bool {
	return c.jwt != "" || (c.apiKey != "" && c.apiSecret != "")
}

func (c *Client) authorize(req *http.Request) error {
	switch {
	case c.jwt != "":
		req.Header.Set("Authorization", "Bearer "+c.jwt)
	case c.apiKey != "" && c.apiSecret != "":
		req.Header.Set("pinata_api_key", c.apiKey)
		req.Header.Set("pinata_secret_api_key", c.apiSecret)
	default:
		return ErrNoCredentials
	}
	return nil
}

type pinResponse struct {
	IpfsHash    string `json:"IpfsHash"`
	PinSize     int64  `json:"PinSize"`
	Timestamp   string `json:"Timestamp"`
	IsDuplicate bool   `json:"isDuplicate"`
}

// Pin streams the file at path to pinFileToIPFS under displayName and
// returns the validated content identifier. It does not retry.
func (c *Client) Pin(ctx context.Context, path, displayName string) (PinResult, error) {
	if !c.hasCredentials() {
		return PinResult{}, ErrNoCredentials
	}
	// #nosec G304 -- path is a segment inside the capture directory
	f, err := os.Open(path)
	if err != nil {
		return PinResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	meta, err := json.Marshal(map[string]string{"name": displayName})
	if err != nil {
		return PinResult{}, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMultipart(mw, f, filepath.Base(path), meta)
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/pinning/pinFileToIPFS", pr)
	if err != nil {
		_ = pr.Close()
		return PinResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.authorize(req); err != nil {
		_ = pr.Close()
		return PinResult{}, err
	}

	var out pinResponse
	if err := c.do(req, &out); err != nil {
		_ = pr.Close()
		return PinResult{}, fmt.Errorf("pin %s: %w", displayName, err)
	}

	parsed, err := cid.Decode(out.IpfsHash)
	if err != nil {
		return PinResult{}, fmt.Errorf("pin %s: invalid cid %q: %w", displayName, out.IpfsHash, err)
	}
	res := PinResult{CID: parsed.String(), Size: out.PinSize, IsDuplicate: out.IsDuplicate}
	if ts, err := time.Parse(time.RFC3339, out.Timestamp); err == nil {
		res.PinnedAt = ts
	}

	c.logger.Info().
		Str(log.FieldEvent, "segment.pinned").
		Str(log.FieldSegment, displayName).
		Str(log.FieldCID, res.CID).
		Int64("size", res.Size).
		Bool("duplicate", res.IsDuplicate).
		Msg("file pinned")
	return res, nil
}

func writeMultipart(mw *multipart.Writer, src io.Reader, filename string, meta []byte) error {
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return err
	}
	return mw.Close()
}

type pinListResponse struct {
	Count int `json:"count"`
	Rows  []struct {
		IpfsPinHash string `json:"ipfs_pin_hash"`
		Size        int64  `json:"size"`
		DatePinned  string `json:"date_pinned"`
		Metadata    struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"rows"`
}

// ListPinned returns up to limit currently pinned entries, newest first.
func (c *Client) ListPinned(ctx context.Context, limit int) ([]Pin, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := url.Values{}
	q.Set("status", "pinned")
	q.Set("pageLimit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/data/pinList?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	var out pinListResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}

	pins := make([]Pin, 0, len(out.Rows))
	for _, row := range out.Rows {
		p := Pin{CID: row.IpfsPinHash, DisplayName: row.Metadata.Name, Size: row.Size}
		if ts, err := time.Parse(time.RFC3339, row.DatePinned); err == nil {
			p.PinnedAt = ts
		}
		pins = append(pins, p)
	}
	return pins, nil
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pinata returned %d: %s", e.Code, e.Body)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
