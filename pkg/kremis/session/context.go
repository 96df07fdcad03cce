package session

import "github.com/TyKolt/kremis/pkg/kremis"

// ContextBuffer is the Session's volatile scratch space: free-form
// per-node annotations an embedder can stash between queries (e.g. a
// traversal cursor, a caller-side cache of recent results). Nothing here is
// ever read by Ingestor or Compositor, and nothing here is ever part of a
// canonical or persistence export — it does not survive Close, and a
// fresh Session always starts with an empty one.
type ContextBuffer struct {
	entries map[kremis.NodeId]map[string]string
}

func newContextBuffer() *ContextBuffer {
	return &ContextBuffer{entries: make(map[kremis.NodeId]map[string]string)}
}

// Set stashes value under key for node.
func (c *ContextBuffer) Set(node kremis.NodeId, key, value string) {
	bucket, ok := c.entries[node]
	if !ok {
		bucket = make(map[string]string)
		c.entries[node] = bucket
	}
	bucket[key] = value
}

// Get returns the value previously Set for (node, key), and whether it was
// present.
func (c *ContextBuffer) Get(node kremis.NodeId, key string) (string, bool) {
	bucket, ok := c.entries[node]
	if !ok {
		return "", false
	}
	v, ok := bucket[key]
	return v, ok
}

// Clear discards every stashed annotation for node.
func (c *ContextBuffer) Clear(node kremis.NodeId) {
	delete(c.entries, node)
}

// Reset discards every stashed annotation in the buffer.
func (c *ContextBuffer) Reset() {
	c.entries = make(map[kremis.NodeId]map[string]string)
}
