package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestValidate_FixturePasses(t *testing.T) {
	t.Setenv("CSV_PATH", "../../internal/adapter/csvsource/testdata/ndvi.csv")

	out, err := runCommand(t, "validate")
	require.NoError(t, err)

	assert.Contains(t, out, "PASS config")
	assert.Contains(t, out, "rows: 7")
	assert.Contains(t, out, "month 07 (July 2024): 2 valid")
	assert.Contains(t, out, "month 09 (September 2024): 2 valid")
	assert.Contains(t, out, "rejected non_numeric: 1")
}

func TestValidate_MissingCSVFails(t *testing.T) {
	t.Setenv("CSV_PATH", "testdata/does-not-exist.csv")

	out, err := runCommand(t, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "FAIL csv fallback")
}

func TestValidate_BadConfigFails(t *testing.T) {
	t.Setenv("SAMPLE_STRIDE", "0")

	out, err := runCommand(t, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "FAIL config")
	assert.Contains(t, out, "SAMPLE_STRIDE")
}
