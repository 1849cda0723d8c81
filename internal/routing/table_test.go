package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/gobolt/internal/address"
)

func sampleMeta() map[string]any {
	return map[string]any{
		"rt": map[string]any{
			"ttl": int64(300),
			"db":  "neo4j",
			"servers": []any{
				map[string]any{"role": "ROUTE", "addresses": []any{"router1:7687", "router2:7687"}},
				map[string]any{"role": "READ", "addresses": []any{"reader1:7687"}},
				map[string]any{"role": "WRITE", "addresses": []any{"writer1:7687"}},
				map[string]any{"role": "ARBITER", "addresses": []any{"unknown1:7687"}},
			},
		},
	}
}

func TestParse_PopulatesRolesAndIgnoresUnknown(t *testing.T) {
	table, err := Parse(sampleMeta(), "neo4j", nil)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", table.Database)
	assert.Equal(t, 300*time.Second, table.TTL)
	assert.Len(t, table.Routers, 2)
	assert.Len(t, table.Readers, 1)
	assert.Len(t, table.Writers, 1)
}

func TestParse_MissingRTIsError(t *testing.T) {
	_, err := Parse(map[string]any{}, "neo4j", nil)
	require.Error(t, err)
}

func TestIsFresh_EmptyRoutersIsStale(t *testing.T) {
	table := &Table{TTL: time.Hour}
	assert.False(t, table.IsFresh(ModeRead))
}

func TestIsFresh_EmptyServersForModeIsStale(t *testing.T) {
	table, err := Parse(sampleMeta(), "neo4j", nil)
	require.NoError(t, err)
	table.Writers = nil
	assert.True(t, table.IsFresh(ModeRead))
	assert.False(t, table.IsFresh(ModeWrite))
}

func TestIsFresh_ExpiredTTLIsStale(t *testing.T) {
	table, err := Parse(sampleMeta(), "neo4j", nil)
	require.NoError(t, err)
	table.TTL = 0
	table.fetched = time.Now().Add(-time.Second)
	assert.False(t, table.IsFresh(ModeRead))
}

func TestDeactivate_RemovesFromRoutersAndReaders(t *testing.T) {
	table, err := Parse(sampleMeta(), "neo4j", nil)
	require.NoError(t, err)
	target := address.Parse("router1:7687")
	table.Deactivate(target)
	for _, r := range table.Routers {
		assert.False(t, r.Equal(target))
	}
}

func TestDeactivateWriter_OnlyTouchesWriters(t *testing.T) {
	table, err := Parse(sampleMeta(), "neo4j", nil)
	require.NoError(t, err)
	target := address.Parse("writer1:7687")
	table.DeactivateWriter(target)
	assert.Empty(t, table.Writers)
	assert.NotEmpty(t, table.Routers)
}
