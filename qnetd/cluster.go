package qnetd

// Cluster groups every connected client sharing one cluster name. It is
// the owned-slice rendition of original_source/qdevices/qnetd-cluster.c's
// TAILQ-linked struct qnetd_cluster, per Design Notes §9.
type Cluster struct {
	Name    string
	clients []*Client
}

// Size reports how many clients are currently registered, matching
// qnetd_cluster_size.
func (c *Cluster) Size() int { return len(c.clients) }

// FindByNodeID returns the client with the given node id, or nil, matching
// qnetd_cluster_find_client_by_node_id.
func (c *Cluster) FindByNodeID(nodeID uint32) *Client {
	for _, client := range c.clients {
		if client.nodeID == nodeID {
			return client
		}
	}
	return nil
}

// Clients returns a snapshot of the cluster's current client list.
func (c *Cluster) Clients() []*Client {
	out := make([]*Client, len(c.clients))
	copy(out, c.clients)
	return out
}

func (c *Cluster) add(client *Client) {
	client.cluster = c
	c.clients = append(c.clients, client)
}

func (c *Cluster) remove(client *Client) {
	for i, existing := range c.clients {
		if existing == client {
			c.clients = append(c.clients[:i], c.clients[i+1:]...)
			client.cluster = nil
			return
		}
	}
}
