package dhtclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NEOS-AI/neos/internal/dht"
	"github.com/NEOS-AI/neos/internal/neoserr"
)

func TestShardForKeyNoShardsIsNoShardsError(t *testing.T) {
	c := New(0)
	_, err := c.shardForKey(dht.NewStringKey("alpha"))
	require.ErrorIs(t, err, neoserr.ErrNoShards)
}

func TestShardForKeyDeterministicAndStableUnderReplicaChurn(t *testing.T) {
	c := New(0)
	for shard := uint64(0); shard < 4; shard++ {
		c.AddNode(shard, "127.0.0.1:900"+string(rune('0'+shard)))
	}

	keys := []dht.Key{
		dht.NewStringKey("alpha"),
		dht.NewStringKey("beta"),
		dht.NewStringKey("gamma"),
		dht.NewStringKey("delta"),
	}

	before := map[string]*Shard{}
	for _, k := range keys {
		s, err := c.shardForKey(k)
		require.NoError(t, err)
		before[k.Str] = s
	}

	// Adding a second replica inside an existing shard must not perturb
	// routing: shard_for is a pure function of the key bytes and the
	// ShardId ordering, not of replica membership within a shard.
	c.AddNode(0, "127.0.0.1:9100")

	for _, k := range keys {
		s, err := c.shardForKey(k)
		require.NoError(t, err)
		require.Same(t, before[k.Str], s, "routing for %q changed after adding a replica", k.Str)
	}

	// Re-running routing is deterministic.
	for _, k := range keys {
		s1, _ := c.shardForKey(k)
		s2, _ := c.shardForKey(k)
		require.Same(t, s1, s2)
	}
}

func TestShardIDsIsSortedKeysOfShardMap(t *testing.T) {
	c := New(0)
	c.AddNode(5, "a")
	c.AddNode(1, "b")
	c.AddNode(3, "c")

	require.Equal(t, []uint64{1, 3, 5}, c.ShardIDs())
}
