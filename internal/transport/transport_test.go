package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// CounterService is an end-to-end scenario exercising the transport:
// Change{amount} and Reset against a shared counter.

type counterReq struct {
	reset  bool
	amount int64
}

type counterResp struct {
	unit  bool
	value int64
}

func encodeCounterReq(r counterReq) []byte {
	e := NewEncoder()
	if r.reset {
		e.WriteByte(1)
	} else {
		e.WriteByte(0)
		e.WriteInt64(r.amount)
	}
	return e.Bytes()
}

func decodeCounterReq(b []byte) (counterReq, error) {
	d := NewDecoder(b)
	tag, err := d.ReadByte()
	if err != nil {
		return counterReq{}, err
	}
	if tag == 1 {
		return counterReq{reset: true}, nil
	}
	amt, err := d.ReadInt64()
	if err != nil {
		return counterReq{}, err
	}
	return counterReq{amount: amt}, nil
}

func encodeCounterResp(r counterResp) []byte {
	e := NewEncoder()
	if r.unit {
		e.WriteByte(1)
	} else {
		e.WriteByte(0)
		e.WriteInt64(r.value)
	}
	return e.Bytes()
}

func decodeCounterResp(b []byte) (counterResp, error) {
	d := NewDecoder(b)
	tag, err := d.ReadByte()
	if err != nil {
		return counterResp{}, err
	}
	if tag == 1 {
		return counterResp{unit: true}, nil
	}
	v, err := d.ReadInt64()
	if err != nil {
		return counterResp{}, err
	}
	return counterResp{value: v}, nil
}

func startCounterServer(t *testing.T) (*Server[counterReq, counterResp], *int64) {
	t.Helper()
	var mu sync.Mutex
	var total int64

	handle := func(req counterReq) counterResp {
		mu.Lock()
		defer mu.Unlock()
		if req.reset {
			total = 0
			return counterResp{unit: true}
		}
		total += req.amount
		return counterResp{value: total}
	}

	srv, err := Bind(
		"127.0.0.1:0",
		MessageCodec[counterReq]{Encode: encodeCounterReq, Decode: decodeCounterReq},
		MessageCodec[counterResp]{Encode: encodeCounterResp, Decode: decodeCounterResp},
		handle,
		nil,
	)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, &total
}

func dialCounter(t *testing.T, addr string) *Connection[counterReq, counterResp] {
	t.Helper()
	conn, err := Connect(
		addr,
		MessageCodec[counterReq]{Encode: encodeCounterReq, Decode: decodeCounterReq},
		MessageCodec[counterResp]{Encode: encodeCounterResp, Decode: decodeCounterResp},
		nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCounterServiceSequenceOnFreshConnection(t *testing.T) {
	srv, _ := startCounterServer(t)
	conn := dialCounter(t, srv.Addr().String())

	r1, err := conn.Send(counterReq{amount: 15})
	require.NoError(t, err)
	require.Equal(t, int64(15), r1.value)

	r2, err := conn.Send(counterReq{amount: 15})
	require.NoError(t, err)
	require.Equal(t, int64(30), r2.value)

	r3, err := conn.Send(counterReq{reset: true})
	require.NoError(t, err)
	require.True(t, r3.unit)

	r4, err := conn.Send(counterReq{amount: 15})
	require.NoError(t, err)
	require.Equal(t, int64(15), r4.value)
}

func TestCounterServiceInterleavedPooledConnections(t *testing.T) {
	srv, _ := startCounterServer(t)
	addr := srv.Addr().String()
	pool := NewPool(func(addr string) (*Connection[counterReq, counterResp], error) {
		return Connect(
			addr,
			MessageCodec[counterReq]{Encode: encodeCounterReq, Decode: decodeCounterReq},
			MessageCodec[counterResp]{Encode: encodeCounterResp, Decode: decodeCounterResp},
			nil,
		)
	})
	c1, err := pool.Get(addr)
	require.NoError(t, err)
	c2, err := pool.Get(addr)
	require.NoError(t, err)

	r1, err := c1.Send(counterReq{amount: 15})
	require.NoError(t, err)
	r2, err := c2.Send(counterReq{amount: 15})
	require.NoError(t, err)

	require.True(t, r2.value >= r1.value)
	require.Equal(t, int64(30), r2.value)
}

func TestBatchSendPreservesOrder(t *testing.T) {
	srv, _ := startCounterServer(t)
	conn := dialCounter(t, srv.Addr().String())

	resps, err := conn.BatchSend([]counterReq{{amount: 1}, {amount: 2}, {amount: 3}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 6}, []int64{resps[0].value, resps[1].value, resps[2].value})
}

func TestPoolRecyclesOnlyIdleConnections(t *testing.T) {
	srv, _ := startCounterServer(t)
	addr := srv.Addr().String()

	pool := NewPool(func(addr string) (*Connection[counterReq, counterResp], error) {
		return Connect(
			addr,
			MessageCodec[counterReq]{Encode: encodeCounterReq, Decode: decodeCounterReq},
			MessageCodec[counterResp]{Encode: encodeCounterResp, Decode: decodeCounterResp},
			nil,
		)
	})

	conn, err := pool.Get(addr)
	require.NoError(t, err)
	_, err = conn.Send(counterReq{amount: 1})
	require.NoError(t, err)
	pool.Put(addr, conn)

	again, err := pool.Get(addr)
	require.NoError(t, err)
	require.Same(t, conn, again)

	_ = conn.Close()
	pool.Put(addr, conn)

	fresh, err := pool.Get(addr)
	require.NoError(t, err)
	require.NotSame(t, conn, fresh)
}
