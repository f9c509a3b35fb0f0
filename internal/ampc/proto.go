package ampc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/transport"
)

// MapperCodec turns a Job's concrete Mapper type into wire bytes and back,
// the same closed-menu-over-the-wire approach the DHT takes for
// UpsertEnum: an open function type cannot cross
// the wire, so callers supply the (de)serialization for their own Mapper.
type MapperCodec struct {
	Encode func(Mapper) []byte
	Decode func([]byte) (Mapper, error)
}

// reqKind tags whether an Envelope carries coordinator control traffic or
// a job-specific user request, matching Req::{Coordinator, User}.
type reqKind byte

const (
	reqCoordinator reqKind = iota
	reqUser
)

type coordReqKind byte

const (
	coordCurrentJob coordReqKind = iota
	coordScheduleJob
	coordSetup
)

// Envelope is the wire request every worker connection carries: either
// coordinator control traffic (CurrentJob/ScheduleJob/Setup) or a
// passthrough user request, so one connection serves both kinds of
// traffic.
type Envelope struct {
	Kind          reqKind
	CoordKind     coordReqKind
	MapperPayload []byte
	DhtAddr       string
	UserPayload   []byte
}

// EnvelopeResp is the symmetric response.
type EnvelopeResp struct {
	Kind      reqKind
	CoordKind coordReqKind
	Busy      bool
	Err       string
	UserPayload []byte
}

func encodeEnvelope(e Envelope) []byte {
	enc := transport.NewEncoder()
	enc.WriteByte(byte(e.Kind))
	if e.Kind == reqCoordinator {
		enc.WriteByte(byte(e.CoordKind))
		enc.WriteBytes(e.MapperPayload)
		enc.WriteString(e.DhtAddr)
	} else {
		enc.WriteBytes(e.UserPayload)
	}
	return enc.Bytes()
}

func decodeEnvelope(b []byte) (Envelope, error) {
	d := transport.NewDecoder(b)
	kindByte, err := d.ReadByte()
	if err != nil {
		return Envelope{}, err
	}
	kind := reqKind(kindByte)
	if kind == reqCoordinator {
		ckByte, err := d.ReadByte()
		if err != nil {
			return Envelope{}, err
		}
		mapper, err := d.ReadBytes()
		if err != nil {
			return Envelope{}, err
		}
		addr, err := d.ReadString()
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: kind, CoordKind: coordReqKind(ckByte), MapperPayload: mapper, DhtAddr: addr}, nil
	}
	user, err := d.ReadBytes()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, UserPayload: user}, nil
}

func encodeEnvelopeResp(r EnvelopeResp) []byte {
	enc := transport.NewEncoder()
	enc.WriteByte(byte(r.Kind))
	if r.Err != "" {
		enc.WriteByte(1)
		enc.WriteString(r.Err)
		return enc.Bytes()
	}
	enc.WriteByte(0)
	if r.Kind == reqCoordinator {
		enc.WriteByte(byte(r.CoordKind))
		enc.WriteByte(boolByte(r.Busy))
	} else {
		enc.WriteBytes(r.UserPayload)
	}
	return enc.Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func decodeEnvelopeResp(b []byte) (EnvelopeResp, error) {
	d := transport.NewDecoder(b)
	kindByte, err := d.ReadByte()
	if err != nil {
		return EnvelopeResp{}, err
	}
	kind := reqKind(kindByte)
	isErr, err := d.ReadByte()
	if err != nil {
		return EnvelopeResp{}, err
	}
	if isErr == 1 {
		msg, err := d.ReadString()
		if err != nil {
			return EnvelopeResp{}, err
		}
		return EnvelopeResp{Kind: kind, Err: msg}, nil
	}
	if kind == reqCoordinator {
		ckByte, err := d.ReadByte()
		if err != nil {
			return EnvelopeResp{}, err
		}
		busyByte, err := d.ReadByte()
		if err != nil {
			return EnvelopeResp{}, err
		}
		return EnvelopeResp{Kind: kind, CoordKind: coordReqKind(ckByte), Busy: busyByte == 1}, nil
	}
	user, err := d.ReadBytes()
	if err != nil {
		return EnvelopeResp{}, err
	}
	return EnvelopeResp{Kind: kind, UserPayload: user}, nil
}

// EnvelopeCodec/EnvelopeRespCodec wire the envelope into transport.Bind/Connect.
var EnvelopeCodec = transport.MessageCodec[Envelope]{Encode: encodeEnvelope, Decode: decodeEnvelope}
var EnvelopeRespCodec = transport.MessageCodec[EnvelopeResp]{Encode: encodeEnvelopeResp, Decode: decodeEnvelopeResp}

// LocalExecutor runs Mapper.Map calls handed to it by ScheduleJob on a
// background goroutine and reports busy/idle via CurrentJob, the
// server-side half of the worker control menu.
type LocalExecutor struct {
	codec    MapperCodec
	connect  func(dhtAddr string) DhtTables
	hasSetup int32

	mu     sync.Mutex
	tables DhtTables
	busy   bool
}

// NewLocalExecutor builds an executor that decodes mappers with codec. A
// Setup request carries only the DHT's address; connect rebuilds the
// worker's own table view from that address, rather than sharing a live
// connection object through a registry.
func NewLocalExecutor(codec MapperCodec, connect func(dhtAddr string) DhtTables) *LocalExecutor {
	return &LocalExecutor{codec: codec, connect: connect}
}

// HasSetup reports whether a Setup request has installed a DHT view yet.
func (e *LocalExecutor) HasSetup() bool { return atomic.LoadInt32(&e.hasSetup) == 1 }

func (e *LocalExecutor) setup(tables DhtTables) {
	e.mu.Lock()
	e.tables = tables
	e.mu.Unlock()
	atomic.StoreInt32(&e.hasSetup, 1)
}

func (e *LocalExecutor) schedule(payload []byte) error {
	mapper, err := e.codec.Decode(payload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return fmt.Errorf("ampc: worker already busy")
	}
	e.busy = true
	tables := e.tables
	e.mu.Unlock()

	go func() {
		_ = mapper.Map(context.Background(), tables)
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()
	return nil
}

func (e *LocalExecutor) isBusy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Handler builds the transport.Handler that answers coordinator control
// traffic against e, passing any User-shaped request to userHandle.
func (e *LocalExecutor) Handler(userHandle func([]byte) []byte) transport.Handler[Envelope, EnvelopeResp] {
	return func(req Envelope) EnvelopeResp {
		if req.Kind == reqUser {
			if userHandle == nil {
				return EnvelopeResp{Kind: reqUser, Err: "ampc: no user handler installed"}
			}
			return EnvelopeResp{Kind: reqUser, UserPayload: userHandle(req.UserPayload)}
		}

		switch req.CoordKind {
		case coordCurrentJob:
			return EnvelopeResp{Kind: reqCoordinator, CoordKind: coordCurrentJob, Busy: e.isBusy()}
		case coordScheduleJob:
			if err := e.schedule(req.MapperPayload); err != nil {
				return EnvelopeResp{Kind: reqCoordinator, CoordKind: coordScheduleJob, Err: err.Error()}
			}
			return EnvelopeResp{Kind: reqCoordinator, CoordKind: coordScheduleJob}
		case coordSetup:
			if e.connect != nil {
				e.setup(e.connect(req.DhtAddr))
			}
			return EnvelopeResp{Kind: reqCoordinator, CoordKind: coordSetup}
		default:
			return EnvelopeResp{Kind: reqCoordinator, Err: "ampc: unknown coordinator request"}
		}
	}
}

// RemoteWorker implements Worker by speaking the Envelope protocol over a
// pooled transport connection to a worker process.
type RemoteWorker struct {
	addr  string
	pool  *transport.Pool[Envelope, EnvelopeResp]
	codec MapperCodec
}

// NewRemoteWorker builds a Worker proxy for the worker process listening
// at addr.
func NewRemoteWorker(addr string, pool *transport.Pool[Envelope, EnvelopeResp], codec MapperCodec) *RemoteWorker {
	return &RemoteWorker{addr: addr, pool: pool, codec: codec}
}

func (r *RemoteWorker) Addr() string { return r.addr }

func (r *RemoteWorker) roundTrip(req Envelope) (EnvelopeResp, error) {
	conn, err := r.pool.Get(r.addr)
	if err != nil {
		return EnvelopeResp{}, err
	}
	resp, err := conn.Send(req)
	r.pool.Put(r.addr, conn)
	if err != nil {
		return EnvelopeResp{}, err
	}
	if resp.Err != "" {
		return EnvelopeResp{}, fmt.Errorf("ampc: %s", resp.Err)
	}
	return resp, nil
}

// Setup sends the DHT view as an address: tables is read as a string
// holding the DHT address (any other type sends an empty address), and the
// worker reconstructs its own connection from that address on the receiver
// rather than sharing one through a registry.
func (r *RemoteWorker) Setup(_ context.Context, tables DhtTables) error {
	addr, _ := tables.(string)
	_, err := r.roundTrip(Envelope{Kind: reqCoordinator, CoordKind: coordSetup, DhtAddr: addr})
	return err
}

func (r *RemoteWorker) ScheduleJob(_ context.Context, mapper Mapper) error {
	_, err := r.roundTrip(Envelope{Kind: reqCoordinator, CoordKind: coordScheduleJob, MapperPayload: r.codec.Encode(mapper)})
	return err
}

func (r *RemoteWorker) CurrentJob(_ context.Context) (bool, error) {
	resp, err := r.roundTrip(Envelope{Kind: reqCoordinator, CoordKind: coordCurrentJob})
	if err != nil {
		return false, err
	}
	return resp.Busy, nil
}

var _ Worker = (*RemoteWorker)(nil)

// ErrWorkerUnreachable is returned by a RemoteWorker when its pool cannot
// open a connection at all, distinguishing a dead worker from one that
// merely reported an application-level error.
var ErrWorkerUnreachable = neoserr.ErrUnreachable
