package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestJoinGossipsMembershipToSeed exercises the full join lifecycle:
// node A bootstraps with no seed, node B joins through A's address, and
// each ends up knowing about the other via the membership gossip topic.
func TestJoinGossipsMembershipToSeed(t *testing.T) {
	a, err := Join("/ip4/127.0.0.1/tcp/0", nil, Member{Role: RoleDHT, Addr: "127.0.0.1:9000"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotEmpty(t, a.HostAddr())

	b, err := Join("/ip4/127.0.0.1/tcp/0", a.HostAddr(), Member{Role: RoleWorker, Addr: "127.0.0.1:9001"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.Eventually(t, func() bool {
		return len(a.Members()) >= 2 && len(b.Members()) >= 2
	}, 10*time.Second, 50*time.Millisecond, "membership did not converge via gossip")

	require.Len(t, a.MembersByRole(RoleWorker), 1)
	require.Len(t, b.MembersByRole(RoleDHT), 1)
}

func TestStatusListsPeerIDAndService(t *testing.T) {
	shard := uint64(3)
	c, err := Join("/ip4/127.0.0.1/tcp/0", nil, Member{Role: RoleDHT, Addr: "127.0.0.1:9200", ShardID: &shard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	status := c.Status()
	require.Len(t, status, 1)
	require.NotEmpty(t, status[0].ID)
	require.Equal(t, RoleDHT, status[0].Service.Role)
	require.Equal(t, shard, *status[0].Service.ShardID)
}

func TestSelfReturnsAnnouncedMember(t *testing.T) {
	self := Member{Role: RoleCoordinator, Addr: "127.0.0.1:9100"}
	c, err := Join("/ip4/127.0.0.1/tcp/0", nil, self)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Equal(t, self, c.Self())
}
