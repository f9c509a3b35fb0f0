package dht

import (
	"fmt"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/transport"
)

// OpKind tags which per-table operation a Req carries. The wire protocol
// is a single request/response enum rather than one RPC method per
// operation, so one connection serves every table operation plus the
// membership and replication traffic.
type OpKind byte

const (
	OpGet OpKind = iota
	OpBatchGet
	OpSet
	OpBatchSet
	OpUpsert
	OpBatchUpsert
	OpNumKeys
	OpRangeGet
	OpDropTable
	OpCreateTable
	OpAllTables
	OpCloneTable
	OpMembers
	OpJoin
	OpApply
)

// Req is the request half of the DHT node's service protocol.
type Req struct {
	Op       OpKind
	Table    string
	Key      Key
	Keys     []Key
	Value    Value
	Pairs    []KVPair
	UpsertFn UpsertKind
	Range    Range
	Limit    int
	DstTable string

	// Membership and replication traffic (OpJoin/OpApply).
	NodeID     uint64
	Addr       string
	EntryIndex uint64
	EntryIsSet bool
}

// Resp is the response half; only the fields relevant to Op's request are
// populated.
type Resp struct {
	Value   Value
	Found   bool
	Pairs   []KVPair
	Action  UpsertAction
	Actions []UpsertResult
	Num     uint64
	Tables  []string
	Members []Member
	Err     string
}

func encodeBound(e *transport.Encoder, b Bound) {
	e.WriteByte(byte(b.Kind))
	if b.Kind != Unbounded {
		EncodeKey(e, b.Key)
	}
}

func decodeBound(d *transport.Decoder) (Bound, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return Bound{}, err
	}
	kind := BoundKind(tag)
	if kind == Unbounded {
		return Bound{Kind: kind}, nil
	}
	k, err := DecodeKey(d)
	if err != nil {
		return Bound{}, err
	}
	return Bound{Kind: kind, Key: k}, nil
}

func encodeKVPairs(e *transport.Encoder, pairs []KVPair) {
	e.WriteUint32(uint32(len(pairs)))
	for _, p := range pairs {
		EncodeKey(e, p.Key)
		EncodeValue(e, p.Value)
	}
}

func decodeKVPairs(d *transport.Decoder) ([]KVPair, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]KVPair, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := DecodeKey(d)
		if err != nil {
			return nil, err
		}
		v, err := DecodeValue(d)
		if err != nil {
			return nil, err
		}
		out = append(out, KVPair{Key: k, Value: v})
	}
	return out, nil
}

// EncodeReq serializes a Req using the shared little-endian/length-prefixed
// wire codec.
func EncodeReq(req Req) []byte {
	e := transport.NewEncoder()
	e.WriteByte(byte(req.Op))
	e.WriteString(req.Table)

	switch req.Op {
	case OpGet, OpUpsert:
		EncodeKey(e, req.Key)
		if req.Op == OpUpsert {
			e.WriteByte(byte(req.UpsertFn))
			EncodeValue(e, req.Value)
		}
	case OpBatchGet:
		e.WriteUint32(uint32(len(req.Keys)))
		for _, k := range req.Keys {
			EncodeKey(e, k)
		}
	case OpSet:
		EncodeKey(e, req.Key)
		EncodeValue(e, req.Value)
	case OpBatchSet:
		encodeKVPairs(e, req.Pairs)
	case OpBatchUpsert:
		e.WriteByte(byte(req.UpsertFn))
		encodeKVPairs(e, req.Pairs)
	case OpRangeGet:
		encodeBound(e, req.Range.Lo)
		encodeBound(e, req.Range.Hi)
		e.WriteInt64(int64(req.Limit))
	case OpCloneTable:
		e.WriteString(req.DstTable)
	case OpJoin:
		e.WriteUint64(req.NodeID)
		e.WriteString(req.Addr)
	case OpApply:
		e.WriteUint64(req.EntryIndex)
		e.WriteByte(boolByte(req.EntryIsSet))
		EncodeKey(e, req.Key)
		EncodeValue(e, req.Value)
		e.WriteByte(byte(req.UpsertFn))
	case OpNumKeys, OpDropTable, OpCreateTable, OpAllTables, OpMembers:
		// table name is the entire payload
	}

	return e.Bytes()
}

// DecodeReq reads a Req written by EncodeReq.
func DecodeReq(b []byte) (Req, error) {
	d := transport.NewDecoder(b)
	tag, err := d.ReadByte()
	if err != nil {
		return Req{}, err
	}
	op := OpKind(tag)
	table, err := d.ReadString()
	if err != nil {
		return Req{}, err
	}
	req := Req{Op: op, Table: table}

	switch op {
	case OpGet, OpUpsert:
		k, err := DecodeKey(d)
		if err != nil {
			return Req{}, err
		}
		req.Key = k
		if op == OpUpsert {
			fn, err := d.ReadByte()
			if err != nil {
				return Req{}, err
			}
			req.UpsertFn = UpsertKind(fn)
			v, err := DecodeValue(d)
			if err != nil {
				return Req{}, err
			}
			req.Value = v
		}
	case OpBatchGet:
		n, err := d.ReadUint32()
		if err != nil {
			return Req{}, err
		}
		keys := make([]Key, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := DecodeKey(d)
			if err != nil {
				return Req{}, err
			}
			keys = append(keys, k)
		}
		req.Keys = keys
	case OpSet:
		k, err := DecodeKey(d)
		if err != nil {
			return Req{}, err
		}
		v, err := DecodeValue(d)
		if err != nil {
			return Req{}, err
		}
		req.Key, req.Value = k, v
	case OpBatchSet:
		pairs, err := decodeKVPairs(d)
		if err != nil {
			return Req{}, err
		}
		req.Pairs = pairs
	case OpBatchUpsert:
		fn, err := d.ReadByte()
		if err != nil {
			return Req{}, err
		}
		req.UpsertFn = UpsertKind(fn)
		pairs, err := decodeKVPairs(d)
		if err != nil {
			return Req{}, err
		}
		req.Pairs = pairs
	case OpRangeGet:
		lo, err := decodeBound(d)
		if err != nil {
			return Req{}, err
		}
		hi, err := decodeBound(d)
		if err != nil {
			return Req{}, err
		}
		limit, err := d.ReadInt64()
		if err != nil {
			return Req{}, err
		}
		req.Range = Range{Lo: lo, Hi: hi}
		req.Limit = int(limit)
	case OpCloneTable:
		dst, err := d.ReadString()
		if err != nil {
			return Req{}, err
		}
		req.DstTable = dst
	case OpJoin:
		id, err := d.ReadUint64()
		if err != nil {
			return Req{}, err
		}
		addr, err := d.ReadString()
		if err != nil {
			return Req{}, err
		}
		req.NodeID, req.Addr = id, addr
	case OpApply:
		idx, err := d.ReadUint64()
		if err != nil {
			return Req{}, err
		}
		isSet, err := d.ReadByte()
		if err != nil {
			return Req{}, err
		}
		k, err := DecodeKey(d)
		if err != nil {
			return Req{}, err
		}
		v, err := DecodeValue(d)
		if err != nil {
			return Req{}, err
		}
		fn, err := d.ReadByte()
		if err != nil {
			return Req{}, err
		}
		req.EntryIndex = idx
		req.EntryIsSet = isSet == 1
		req.Key, req.Value = k, v
		req.UpsertFn = UpsertKind(fn)
	case OpNumKeys, OpDropTable, OpCreateTable, OpAllTables, OpMembers:
	default:
		return Req{}, fmt.Errorf("%w: unknown dht op %d", neoserr.ErrDecode, tag)
	}
	return req, nil
}

// EncodeResp serializes a Resp.
func EncodeResp(resp Resp) []byte {
	e := transport.NewEncoder()
	if resp.Err != "" {
		e.WriteByte(1)
		e.WriteString(resp.Err)
		return e.Bytes()
	}
	e.WriteByte(0)

	e.WriteByte(boolByte(resp.Found))
	EncodeValue(e, resp.Value)

	e.WriteUint32(uint32(len(resp.Pairs)))
	for _, p := range resp.Pairs {
		EncodeKey(e, p.Key)
		EncodeValue(e, p.Value)
	}

	e.WriteByte(byte(resp.Action))

	e.WriteUint32(uint32(len(resp.Actions)))
	for _, a := range resp.Actions {
		EncodeKey(e, a.Key)
		e.WriteByte(byte(a.Action))
	}

	e.WriteUint64(resp.Num)

	e.WriteUint32(uint32(len(resp.Tables)))
	for _, t := range resp.Tables {
		e.WriteString(t)
	}

	e.WriteUint32(uint32(len(resp.Members)))
	for _, m := range resp.Members {
		e.WriteUint64(m.NodeID)
		e.WriteString(m.Addr)
	}

	return e.Bytes()
}

// DecodeResp reads a Resp written by EncodeResp.
func DecodeResp(b []byte) (Resp, error) {
	d := transport.NewDecoder(b)
	isErr, err := d.ReadByte()
	if err != nil {
		return Resp{}, err
	}
	if isErr == 1 {
		msg, err := d.ReadString()
		if err != nil {
			return Resp{}, err
		}
		return Resp{Err: msg}, nil
	}

	foundByte, err := d.ReadByte()
	if err != nil {
		return Resp{}, err
	}
	value, err := DecodeValue(d)
	if err != nil {
		return Resp{}, err
	}

	pairs, err := decodeKVPairs(d)
	if err != nil {
		return Resp{}, err
	}

	actionByte, err := d.ReadByte()
	if err != nil {
		return Resp{}, err
	}

	nActions, err := d.ReadUint32()
	if err != nil {
		return Resp{}, err
	}
	actions := make([]UpsertResult, 0, nActions)
	for i := uint32(0); i < nActions; i++ {
		k, err := DecodeKey(d)
		if err != nil {
			return Resp{}, err
		}
		ab, err := d.ReadByte()
		if err != nil {
			return Resp{}, err
		}
		actions = append(actions, UpsertResult{Key: k, Action: UpsertAction(ab)})
	}

	num, err := d.ReadUint64()
	if err != nil {
		return Resp{}, err
	}

	nTables, err := d.ReadUint32()
	if err != nil {
		return Resp{}, err
	}
	tables := make([]string, 0, nTables)
	for i := uint32(0); i < nTables; i++ {
		t, err := d.ReadString()
		if err != nil {
			return Resp{}, err
		}
		tables = append(tables, t)
	}

	nMembers, err := d.ReadUint32()
	if err != nil {
		return Resp{}, err
	}
	members := make([]Member, 0, nMembers)
	for i := uint32(0); i < nMembers; i++ {
		id, err := d.ReadUint64()
		if err != nil {
			return Resp{}, err
		}
		addr, err := d.ReadString()
		if err != nil {
			return Resp{}, err
		}
		members = append(members, Member{NodeID: id, Addr: addr})
	}

	return Resp{
		Found:   foundByte == 1,
		Value:   value,
		Pairs:   pairs,
		Action:  UpsertAction(actionByte),
		Actions: actions,
		Num:     num,
		Tables:  tables,
		Members: members,
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ReqCodec/RespCodec are the transport.MessageCodec values every DHT server
// and client wires into transport.Bind/Connect.
var ReqCodec = transport.MessageCodec[Req]{Encode: EncodeReq, Decode: DecodeReq}
var RespCodec = transport.MessageCodec[Resp]{Encode: EncodeResp, Decode: DecodeResp}

// Service dispatches a decoded Req against a Node's local tables. Writes
// (Set/Upsert) go through the node's replicated log; reads are served
// directly from local state, since any replica may serve a read.
func Service(n *Node) transport.Handler[Req, Resp] {
	return func(req Req) Resp {
		switch req.Op {
		case OpGet:
			v, ok := n.Tables().Get(req.Table).Get(req.Key)
			return Resp{Value: v, Found: ok}
		case OpBatchGet:
			pairs := n.Tables().Get(req.Table).BatchGet(req.Keys)
			return Resp{Pairs: pairs}
		case OpSet:
			if err := n.ProposeSet(req.Table, req.Key, req.Value); err != nil {
				return Resp{Err: err.Error()}
			}
			return Resp{}
		case OpBatchSet:
			for _, p := range req.Pairs {
				if err := n.ProposeSet(req.Table, p.Key, p.Value); err != nil {
					return Resp{Err: err.Error()}
				}
			}
			return Resp{}
		case OpUpsert:
			action, err := n.ProposeUpsert(req.Table, req.UpsertFn, req.Key, req.Value)
			if err != nil {
				return Resp{Err: err.Error()}
			}
			return Resp{Action: action}
		case OpBatchUpsert:
			actions := make([]UpsertResult, 0, len(req.Pairs))
			for _, p := range req.Pairs {
				action, err := n.ProposeUpsert(req.Table, req.UpsertFn, p.Key, p.Value)
				if err != nil {
					return Resp{Err: err.Error()}
				}
				actions = append(actions, UpsertResult{Key: p.Key, Action: action})
			}
			return Resp{Actions: actions}
		case OpNumKeys:
			return Resp{Num: n.Tables().Get(req.Table).NumKeys()}
		case OpRangeGet:
			pairs := n.Tables().Get(req.Table).RangeGet(req.Range, req.Limit)
			return Resp{Pairs: pairs}
		case OpDropTable:
			n.Tables().DropTable(req.Table)
			return Resp{}
		case OpCreateTable:
			if err := n.Tables().CreateTable(req.Table); err != nil {
				return Resp{Err: err.Error()}
			}
			return Resp{}
		case OpAllTables:
			return Resp{Tables: n.Tables().AllTables()}
		case OpCloneTable:
			src, ok := n.Tables().CloneTable(req.Table)
			if !ok {
				return Resp{Err: fmt.Sprintf("dht: table %q does not exist", req.Table)}
			}
			n.Tables().PutTable(req.DstTable, src)
			return Resp{}
		case OpMembers:
			return Resp{Members: n.Members()}
		case OpJoin:
			if err := n.AddMember(Member{NodeID: req.NodeID, Addr: req.Addr}); err != nil {
				return Resp{Err: err.Error()}
			}
			return Resp{}
		case OpApply:
			entry := LogEntry{Index: req.EntryIndex, Table: req.Table, Op: logOp{key: req.Key, value: req.Value, upsert: req.UpsertFn}}
			if !req.EntryIsSet {
				entry.Op.kind = opUpsert
			}
			n.Apply(entry)
			return Resp{}
		default:
			return Resp{Err: fmt.Sprintf("dht: unknown op %d", req.Op)}
		}
	}
}
