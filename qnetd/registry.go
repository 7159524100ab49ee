package qnetd

import (
	"errors"

	"github.com/luxfi/qnetd/wire"
)

// Consistency-check errors from spec.md §4.5, surfaced to the caller so it
// can map them onto the matching wire.ReplyErrorCode in an InitReply.
var (
	ErrTieBreakerDiffers = errors.New("qnetd: tie-breaker differs from other nodes in cluster")
	ErrAlgorithmDiffers  = errors.New("qnetd: decision algorithm differs from other nodes in cluster")
	ErrDuplicateNodeID   = errors.New("qnetd: node id already registered in cluster")
)

// Registry holds every active cluster by name. It is the owned-collection
// rendition of the source's global cluster list (a single process-wide
// TAILQ in qnetd-instance.c), held here as an explicit map instead of a
// package-level singleton, per Design Notes §9 ("no global singleton").
type Registry struct {
	clusters map[string]*Cluster
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clusters: make(map[string]*Cluster)}
}

// Join validates client against every existing member of its target
// cluster (spec.md §4.5) and, if consistent, registers it — creating the
// cluster record on first join.
func (r *Registry) Join(clusterName string, client *Client) error {
	cluster, ok := r.clusters[clusterName]
	if !ok {
		cluster = &Cluster{Name: clusterName}
		r.clusters[clusterName] = cluster
	}

	for _, existing := range cluster.clients {
		if !existing.tieBreaker.Equal(client.tieBreaker) {
			return ErrTieBreakerDiffers
		}
		if existing.algorithm != client.algorithm {
			return ErrAlgorithmDiffers
		}
		if existing.nodeID == client.nodeID {
			return ErrDuplicateNodeID
		}
	}

	client.clusterName = clusterName
	cluster.add(client)
	return nil
}

// Leave removes client from its cluster, destroying the cluster record
// once its last client has disconnected — matching qnetd_cluster_destroy
// being called when qnetd_cluster_size drops to zero.
func (r *Registry) Leave(client *Client) {
	cluster := client.cluster
	if cluster == nil {
		return
	}
	cluster.remove(client)
	if cluster.Size() == 0 {
		delete(r.clusters, cluster.Name)
	}
}

// Cluster looks up a cluster by name.
func (r *Registry) Cluster(name string) (*Cluster, bool) {
	c, ok := r.clusters[name]
	return c, ok
}

// Clusters returns every currently-registered cluster name.
func (r *Registry) Clusters() []string {
	names := make([]string, 0, len(r.clusters))
	for name := range r.clusters {
		names = append(names, name)
	}
	return names
}

// ErrorCode maps a Join error onto the wire-level reply code spec.md §4.5
// specifies.
func ErrorCode(err error) wire.ReplyErrorCode {
	switch {
	case errors.Is(err, ErrTieBreakerDiffers):
		return wire.ErrTieBreakerDiffersFromOtherNodes
	case errors.Is(err, ErrAlgorithmDiffers):
		return wire.ErrAlgorithmDiffersFromOtherNodes
	case errors.Is(err, ErrDuplicateNodeID):
		return wire.ErrDuplicateNodeID
	default:
		return wire.ErrNoError
	}
}

// ClusterSummary is the IPC-status supplement named in SPEC_FULL.md §6.1:
// a plain struct for status reporting, standing in for the historical
// qnetd-ipc-cmd.c status protocol. No command-line flag prints it.
type ClusterSummary struct {
	Name        string
	ClientCount int
	NodeIDs     []uint32
}

// Dump snapshots every cluster's membership for status reporting.
func (r *Registry) Dump() []ClusterSummary {
	out := make([]ClusterSummary, 0, len(r.clusters))
	for name, cluster := range r.clusters {
		summary := ClusterSummary{Name: name, ClientCount: cluster.Size()}
		for _, c := range cluster.clients {
			summary.NodeIDs = append(summary.NodeIDs, c.nodeID)
		}
		out = append(out, summary)
	}
	return out
}
