// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		envSet       bool
		want         string
	}{
		{name: "environment variable set", key: "TEST_STRING", defaultValue: "default", envValue: "from-env", envSet: true, want: "from-env"},
		{name: "environment variable not set", key: "TEST_STRING_UNSET", defaultValue: "default", want: "default"},
		{name: "environment variable empty string", key: "TEST_STRING_EMPTY", defaultValue: "default", envValue: "", envSet: true, want: "default"},
		{name: "sensitive variable", key: "TEST_PRIVATE_KEY", defaultValue: "default", envValue: "abc", envSet: true, want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, ParseString(tt.key, tt.defaultValue))
		})
	}
}

func TestParseNumeric(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_U64", "700000")
	t.Setenv("TEST_I64", "-3")
	t.Setenv("TEST_FLOAT", "0.25")

	assert.Equal(t, 42, ParseInt("TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("TEST_INT_BAD", 1))
	assert.Equal(t, uint64(700000), ParseUint64("TEST_U64", 1))
	assert.Equal(t, uint64(9), ParseUint64("TEST_I64", 9))
	assert.Equal(t, int64(-3), ParseInt64("TEST_I64", 0))
	assert.InDelta(t, 0.25, ParseFloat("TEST_FLOAT", 1), 1e-9)
}

func TestParseDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "1500ms")
	t.Setenv("TEST_DUR_BAD", "soon")

	assert.Equal(t, 1500*time.Millisecond, ParseDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, ParseDuration("TEST_DUR_BAD", time.Second))
	assert.Equal(t, time.Minute, ParseDuration("TEST_DUR_UNSET", time.Minute))
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes"} {
		t.Setenv("TEST_BOOL", v)
		assert.True(t, ParseBool("TEST_BOOL", false), v)
	}
	for _, v := range []string{"false", "0", "No"} {
		t.Setenv("TEST_BOOL", v)
		assert.False(t, ParseBool("TEST_BOOL", true), v)
	}
	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, ParseBool("TEST_BOOL", true))
}

func TestParseStringList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ParseStringList("TEST_LIST", nil))

	t.Setenv("TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, ParseStringList("TEST_LIST", []string{"x"}))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, isSensitiveKey(EnvPrivateKey))
	assert.True(t, isSensitiveKey(EnvPinataJWT))
	assert.True(t, isSensitiveKey(EnvPinataAPISecret))
	assert.True(t, isSensitiveKey(EnvPinataAPIKey))
	assert.False(t, isSensitiveKey(EnvDataDir))
}
