package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCode(t *testing.T) {
	code, err := readCode(strings.NewReader(" 123456 \n"))
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	code, err = readCode(strings.NewReader("654321"))
	require.NoError(t, err)
	assert.Equal(t, "654321", code)

	_, err = readCode(strings.NewReader(""))
	assert.Error(t, err)

	_, err = readCode(strings.NewReader("\n"))
	assert.Error(t, err)
}
