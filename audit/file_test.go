package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard"
)

func TestFileAdapterWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "decisions.jsonl")

	adapter, err := NewFileAdapter(path)
	require.NoError(t, err)

	events := []*Event{
		{Timestamp: time.Now(), Operation: rowguard.OpRead, Table: "posts", Decision: DecisionDeny, PolicyName: "banned"},
		{Timestamp: time.Now(), Operation: rowguard.OpUpdate, Table: "posts", Decision: DecisionAllow},
	}

	require.NoError(t, adapter.Log(context.Background(), events[0]))
	require.NoError(t, adapter.LogBatch(context.Background(), events[1:]))
	require.NoError(t, adapter.Close(context.Background()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var decoded []Event

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		decoded = append(decoded, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, decoded, 2)
	assert.Equal(t, "banned", decoded[0].PolicyName)
	assert.Equal(t, DecisionAllow, decoded[1].Decision)
}

func TestFileAdapterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")

	for range 2 {
		adapter, err := NewFileAdapter(path)
		require.NoError(t, err)

		require.NoError(t, adapter.Log(context.Background(), &Event{Table: "posts", Decision: DecisionDeny}))
		require.NoError(t, adapter.Close(context.Background()))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := 0
	for _, b := range raw {
		if b == '\n' {
			lines++
		}
	}

	assert.Equal(t, 2, lines, "reopening must append, not truncate")
}
