package ampc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeCodecRoundTrip(t *testing.T) {
	reqs := []Envelope{
		{Kind: reqCoordinator, CoordKind: coordScheduleJob, MapperPayload: []byte("mapper-bytes"), DhtAddr: "127.0.0.1:7000"},
		{Kind: reqCoordinator, CoordKind: coordCurrentJob, MapperPayload: []byte{}, DhtAddr: ""},
		{Kind: reqUser, UserPayload: []byte("user-payload")},
	}
	for _, req := range reqs {
		got, err := decodeEnvelope(encodeEnvelope(req))
		require.NoError(t, err)
		require.Equal(t, req, got)
	}
}

func TestEnvelopeRespCodecRoundTrip(t *testing.T) {
	busy, err := decodeEnvelopeResp(encodeEnvelopeResp(EnvelopeResp{Kind: reqCoordinator, CoordKind: coordCurrentJob, Busy: true}))
	require.NoError(t, err)
	require.True(t, busy.Busy)
	require.Equal(t, coordCurrentJob, busy.CoordKind)

	failed, err := decodeEnvelopeResp(encodeEnvelopeResp(EnvelopeResp{Kind: reqCoordinator, Err: "boom"}))
	require.NoError(t, err)
	require.Equal(t, "boom", failed.Err)

	user, err := decodeEnvelopeResp(encodeEnvelopeResp(EnvelopeResp{Kind: reqUser, UserPayload: []byte("result")}))
	require.NoError(t, err)
	require.Equal(t, []byte("result"), user.UserPayload)
}

func TestLocalExecutorSetupInstallsTablesFromAddr(t *testing.T) {
	codec := MapperCodec{
		Encode: func(Mapper) []byte { return nil },
		Decode: func([]byte) (Mapper, error) { return nil, fmt.Errorf("no mappers registered") },
	}

	var gotAddr string
	e := NewLocalExecutor(codec, func(addr string) DhtTables {
		gotAddr = addr
		return addr
	})
	h := e.Handler(nil)

	resp := h(Envelope{Kind: reqCoordinator, CoordKind: coordSetup, DhtAddr: "127.0.0.1:7001"})
	require.Empty(t, resp.Err)
	require.True(t, e.HasSetup())
	require.Equal(t, "127.0.0.1:7001", gotAddr)

	idle := h(Envelope{Kind: reqCoordinator, CoordKind: coordCurrentJob})
	require.False(t, idle.Busy)
}

func TestLocalExecutorRejectsUserTrafficWithoutHandler(t *testing.T) {
	e := NewLocalExecutor(MapperCodec{}, nil)
	resp := e.Handler(nil)(Envelope{Kind: reqUser, UserPayload: []byte("x")})
	require.NotEmpty(t, resp.Err)
}
