// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ManuGH/camanchor/internal/version"
	"github.com/stretchr/testify/assert"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &out)
	assert.Equal(t, 0, code)
	assert.Equal(t, version.String(), strings.TrimSpace(out.String()))
}

func TestRunUnknownFlag(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-nope"}, &out))
}

func TestRunMissingConfigFile(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing.yaml")
	assert.Equal(t, 1, run(context.Background(), []string{"-config", path}, &out))
}

func TestRunRejectsUnknownConfigKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("dataDir: /tmp/x\nbogus: 1\n"), 0o600))
	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"-config", path}, &out))
}
