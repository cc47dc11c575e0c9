// ABOUTME: Tests for logger construction and the badger adapter
// ABOUTME: Verifies level parsing, formatters, file rotation setup, and live level changes
package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "item", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "item=7")

	tree := NewTree(logger)
	child := tree.Component("sync")
	require.NoError(t, tree.SetLevel("debug"))
	logger.Debug("root visible")
	child.Debug("child visible")
	assert.Contains(t, buf.String(), "root visible")
	assert.Contains(t, buf.String(), "child visible")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Format: "json", Output: &buf})
	require.NoError(t, err)

	NewTree(logger).Component("sync").Info("run finished", "result", "SUCCESS")
	assert.Contains(t, buf.String(), `"result":"SUCCESS"`)
	assert.Contains(t, buf.String(), `"prefix":"sync"`)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, _, err = New(Options{Format: "xml"})
	assert.Error(t, err)

	assert.Error(t, NewTree(Discard()).SetLevel("loud"))
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	logger, closer, err := New(Options{File: path})
	require.NoError(t, err)

	logger.Info("to disk")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to disk")
}

func TestBadgerAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "info", Output: &buf})
	require.NoError(t, err)

	var adapter badger.Logger = Badger{Logger: logger}
	adapter.Infof("compaction %d\n", 1)
	adapter.Warningf("slow write %s\n", "L0")

	out := buf.String()
	assert.NotContains(t, out, "compaction")
	assert.Contains(t, out, "slow write L0")
}
