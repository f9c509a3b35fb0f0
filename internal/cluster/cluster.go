// Package cluster implements the process-wide registry of peers: a
// libp2p host joined to a gossip topic, tagged by role, discovered via a
// seed list. The
// host-construction and topic-join shape is the same one used for peer
// gossip elsewhere in this codebase's lineage, generalized from
// block/transaction gossip to membership-record gossip.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// membershipTopic is the single GossipSub topic every member publishes its
// Member record to and subscribes on to learn about the rest of the
// cluster.
const membershipTopic = "neos/membership/v1"

// Role tags a Member's position in the system.
type Role string

const (
	RoleDHT         Role = "dht"
	RoleWorker      Role = "worker"
	RoleCoordinator Role = "coordinator"
	RoleAPI         Role = "api"
)

// Member is one entry in the cluster-wide registry: a role, a dialable
// address, and, for DHT nodes, the shard it belongs to.
type Member struct {
	Role    Role    `json:"role"`
	Addr    string  `json:"addr"`
	ShardID *uint64 `json:"shard_id,omitempty"`
}

func (m Member) key() string { return string(m.Role) + "|" + m.Addr }

// Cluster is a joined handle to the gossip-backed membership registry.
// Dropping it (calling Close) leaves the cluster: "drop the handle =
// leave".
type Cluster struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	members map[string]memberRecord
	self    Member
}

// memberRecord pairs an announced Member with the peer id it arrived from.
type memberRecord struct {
	member Member
	peerID string
}

// Join creates a libp2p host listening on listenAddr, joins the membership
// gossip topic, dials every address in seeds, announces self, and starts a
// background loop that folds incoming announcements into the local
// registry. Passing no seeds bootstraps a lone member, mirroring the DHT
// node's own seedless bootstrap path.
func Join(listenAddr string, seeds []string, self Member) (*Cluster, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cluster: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("cluster: create pubsub: %w", err)
	}

	topic, err := ps.Join(membershipTopic)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("cluster: join topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("cluster: subscribe topic: %w", err)
	}

	c := &Cluster{
		host:    h,
		pubsub:  ps,
		topic:   topic,
		sub:     sub,
		ctx:     ctx,
		cancel:  cancel,
		members: make(map[string]memberRecord),
		self:    self,
	}
	c.members[self.key()] = memberRecord{member: self, peerID: h.ID().String()}

	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logrus.Warnf("cluster: invalid seed address %s: %v", addr, err)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			logrus.Warnf("cluster: dial seed %s: %v", addr, err)
			continue
		}
	}

	go c.readLoop()
	go c.announceLoop()

	if err := c.announce(self); err != nil {
		logrus.Warnf("cluster: announce self: %v", err)
	}

	return c, nil
}

// announceInterval is how often a member re-publishes its own record so
// that peers joining later still learn about it.
const announceInterval = 2 * time.Second

func (c *Cluster) announceLoop() {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.announce(c.self); err != nil {
				logrus.Debugf("cluster: re-announce: %v", err)
			}
		}
	}
}

func (c *Cluster) announce(m Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.topic.Publish(c.ctx, data)
}

func (c *Cluster) readLoop() {
	for {
		msg, err := c.sub.Next(c.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == c.host.ID() {
			continue
		}
		var m Member
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			logrus.Debugf("cluster: malformed membership record: %v", err)
			continue
		}
		c.mu.Lock()
		c.members[m.key()] = memberRecord{member: m, peerID: msg.ReceivedFrom.String()}
		c.mu.Unlock()
	}
}

// Members returns a snapshot of every member known to this node, including
// itself.
func (c *Cluster) Members() []Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Member, 0, len(c.members))
	for _, r := range c.members {
		out = append(out, r.member)
	}
	return out
}

// MemberStatus is one row of the cluster-status listing: the peer id that
// announced the record, and the service it runs.
type MemberStatus struct {
	ID      string
	Service Member
}

// Status returns every known member tagged with its announcing peer id,
// sorted by id, the shape an admin surface prints.
func (c *Cluster) Status() []MemberStatus {
	c.mu.RLock()
	out := make([]MemberStatus, 0, len(c.members))
	for _, r := range c.members {
		out = append(out, MemberStatus{ID: r.peerID, Service: r.member})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MembersByRole filters Members to a single role, e.g. every DHT node or
// every worker: the shape the AMPC coordinator needs to discover its
// worker fleet.
func (c *Cluster) MembersByRole(role Role) []Member {
	all := c.Members()
	out := make([]Member, 0, len(all))
	for _, m := range all {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// Self returns the member record this node announced.
func (c *Cluster) Self() Member { return c.self }

// HostAddr returns the libp2p-addressable multiaddrs this node listens on.
func (c *Cluster) HostAddr() []string {
	var out []string
	for _, a := range c.host.Addrs() {
		out = append(out, a.String()+"/p2p/"+c.host.ID().String())
	}
	return out
}

// Close leaves the cluster: unsubscribes, closes the pubsub topic, and
// tears down the libp2p host.
func (c *Cluster) Close() error {
	c.cancel()
	c.sub.Cancel()
	if err := c.topic.Close(); err != nil {
		logrus.Debugf("cluster: close topic: %v", err)
	}
	return c.host.Close()
}
