package dht

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/transport"
)

func serveNode(t *testing.T, n *Node) string {
	t.Helper()
	srv, err := transport.Bind("127.0.0.1:0", ReqCodec, RespCodec, Service(n), nil)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv.Addr().String()
}

func TestLeaderReplicatesToFollowerOverRPC(t *testing.T) {
	pool := NewReplicatorPool()
	t.Cleanup(pool.CloseAll)

	follower, err := Join(2, "follower", 0, []Member{{NodeID: 1, Addr: "leader"}}, nil)
	require.NoError(t, err)
	followerAddr := serveNode(t, follower)

	leader := Bootstrap(1, "leader", 0, NewRPCReplicator(pool))
	require.NoError(t, leader.AddMember(Member{NodeID: 2, Addr: followerAddr}))

	require.NoError(t, leader.ProposeSet("t", NewStringKey("k"), NewU64Value(7)))
	_, err = leader.ProposeUpsert("t", U64Add, NewStringKey("k"), NewU64Value(3))
	require.NoError(t, err)

	// Replication is synchronous inside propose, so the follower has
	// applied both entries by the time the calls return.
	v, ok := follower.Tables().Get("t").Get(NewStringKey("k"))
	require.True(t, ok)
	require.Equal(t, uint64(10), v.U64)
	require.Equal(t, uint64(2), follower.LogLen())
}

func TestJoinViaSeedFetchesMembershipAndAnnounces(t *testing.T) {
	pool := NewReplicatorPool()
	t.Cleanup(pool.CloseAll)

	seed := Bootstrap(1, "seed", 0, nil)
	seedAddr := serveNode(t, seed)

	node, err := JoinViaSeed(pool, seedAddr, 2, "127.0.0.1:9102", 0)
	require.NoError(t, err)
	require.Equal(t, RoleFollower, node.Role())
	require.Len(t, node.Members(), 2)
	require.Len(t, seed.Members(), 2)

	// Rejoining with an already-registered node id is refused from the
	// membership the seed hands back.
	_, err = JoinViaSeed(pool, seedAddr, 1, "127.0.0.1:9103", 0)
	require.ErrorIs(t, err, neoserr.ErrAlreadyMember)
}

func TestMembershipReqRespRoundTrip(t *testing.T) {
	req := Req{Op: OpJoin, NodeID: 42, Addr: "127.0.0.1:9000"}
	got, err := DecodeReq(EncodeReq(req))
	require.NoError(t, err)
	require.Equal(t, req, got)

	apply := Req{
		Op:         OpApply,
		Table:      "t",
		EntryIndex: 7,
		EntryIsSet: false,
		Key:        NewStringKey("k"),
		Value:      NewU64Value(3),
		UpsertFn:   U64Add,
	}
	got, err = DecodeReq(EncodeReq(apply))
	require.NoError(t, err)
	require.Equal(t, apply, got)

	resp := Resp{Members: []Member{{NodeID: 1, Addr: "a"}, {NodeID: 2, Addr: "b"}}}
	gotResp, err := DecodeResp(EncodeResp(resp))
	require.NoError(t, err)
	require.Equal(t, resp.Members, gotResp.Members)
}
