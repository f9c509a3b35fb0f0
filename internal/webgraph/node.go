// Package webgraph builds the page-level and host-level link graphs the
// indexing pipeline derives from crawled anchor links.
package webgraph

import (
	"net/url"
	"strings"

	"github.com/spaolacci/murmur3"
)

// NodeID is the stable hash of a Node's canonical name, reusing the same
// murmur3-based stable hash the DHT client uses for shard routing so the
// whole repo hashes strings one consistent way.
type NodeID uint64

// Node is one vertex in either graph: a page (full normalized URL) in the
// page graph, or a host (scheme+authority only) in the host graph.
type Node struct {
	ID   NodeID
	Name string
}

func hashName(name string) NodeID {
	return NodeID(murmur3.Sum64([]byte(name)))
}

// NewPageNode builds a page-graph vertex for a raw URL, normalizing it to
// a stable string (lowercase host, no fragment) before hashing.
func NewPageNode(rawURL string) Node {
	name := normalizePage(rawURL)
	return Node{ID: hashName(name), Name: name}
}

// NewHostNode builds a host-graph vertex for a raw URL's scheme+host.
func NewHostNode(rawURL string) Node {
	name := hostOf(rawURL)
	return Node{ID: hashName(name), Name: name}
}

// IntoHost projects a page Node down to its host Node.
func (n Node) IntoHost() Node {
	return NewHostNode(n.Name)
}

func normalizePage(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + strings.ToLower(u.Host)
}

// RootDomain returns the registrable domain of a host, e.g.
// "blog.example.com" -> "example.com". A last-two-labels heuristic with
// no public-suffix-list lookup (see DESIGN.md), so multi-label suffixes
// like .co.uk collapse too aggressively; good enough to decide "same
// site" for host-graph edge collapsing.
func RootDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
