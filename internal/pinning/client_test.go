// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pinning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func segmentFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment_001.mp4")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPinUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "segment_001.mp4", hdr.Filename)
		assert.Equal(t, "video-bytes", string(data))

		var meta map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("pinataMetadata")), &meta))
		assert.Equal(t, "2025-03-01 10:00 segment_001.mp4", meta["name"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"IpfsHash": testCID, "PinSize": 11, "Timestamp": "2025-03-01T10:00:05Z", "isDuplicate": true,
		})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", JWT: "jwt-token"})
	res, err := c.Pin(context.Background(), segmentFile(t, "video-bytes"), "2025-03-01 10:00 segment_001.mp4")
	require.NoError(t, err)

	assert.Equal(t, testCID, res.CID)
	assert.Equal(t, int64(11), res.Size)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC), res.PinnedAt)
}

func TestPinKeySecretAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("pinata_api_key"))
		assert.Equal(t, "s", r.Header.Get("pinata_secret_api_key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": testCID})
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL, APIKey: "k", APISecret: "s"}).Pin(context.Background(), segmentFile(t, "x"), "n")
	require.NoError(t, err)
}

func TestPinRejectsInvalidCID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": "not-a-cid"})
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL, JWT: "t"}).Pin(context.Background(), segmentFile(t, "x"), "n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cid")
}

func TestPinStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, `{"error":"Invalid authentication"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL, JWT: "bad"}).Pin(context.Background(), segmentFile(t, "x"), "n")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Body, "Invalid authentication")
}

func TestPinWithoutCredentials(t *testing.T) {
	_, err := New(Options{BaseURL: "http://127.0.0.1:0"}).Pin(context.Background(), segmentFile(t, "x"), "n")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestPinMissingFile(t *testing.T) {
	_, err := New(Options{JWT: "t"}).Pin(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"), "n")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestListPinned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/pinList", r.URL.Path)
		assert.Equal(t, "pinned", r.URL.Query().Get("status"))
		assert.Equal(t, "100", r.URL.Query().Get("pageLimit"))
		_, _ = io.WriteString(w, `{"count":1,"rows":[{"ipfs_pin_hash":"`+testCID+`","size":42,
			"date_pinned":"2025-03-01T10:00:05.000Z","metadata":{"name":"segment_001.mp4"}}]}`)
	}))
	defer srv.Close()

	pins, err := New(Options{BaseURL: srv.URL, JWT: "t"}).ListPinned(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, Pin{
		CID:         testCID,
		DisplayName: "segment_001.mp4",
		Size:        42,
		PinnedAt:    time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC),
	}, pins[0])
}
