package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskHex(t *testing.T) {
	assert.Equal(t, "***", maskHex("0x1234"))
	assert.Equal(t, "0x4c08…2318", maskHex(" 0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318 "))
}

func TestGetenv(t *testing.T) {
	t.Setenv("AUTOSTAKE_TEST_KEY", "  value ")
	assert.Equal(t, "value", getenv("AUTOSTAKE_TEST_KEY", "def"))
	assert.Equal(t, "def", getenv("AUTOSTAKE_TEST_MISSING", "def"))
}
