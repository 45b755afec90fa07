package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"scrape", "runs", "status"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "scraper-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestScrapeCommand_Flags(t *testing.T) {
	for flag, def := range map[string]string{
		"rate-limit": "1",
		"timeout":    "30",
		"retries":    "3",
		"limit":      "0",
		"max-pages":  "10",
	} {
		f := scrapeCmd.Flags().Lookup(flag)
		require.NotNil(t, f, "scrape command should have --%s flag", flag)
		assert.Equal(t, def, f.DefValue, "--%s default", flag)
	}
}

func TestRunsCommand_Flags(t *testing.T) {
	f := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, f)
	assert.Equal(t, "20", f.DefValue)
}
