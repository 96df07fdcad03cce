// Package ingest turns raw Signals into graph state: it resolves each
// Signal to a Node, appends the observed property, and — for sequences —
// associates temporally adjacent Signals with a weighted directed edge.
package ingest

import (
	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

// associationWindow is the number of signal positions apart two signals may
// be and still be associated by IngestSequence. Spec §4.e fixes this at 1:
// only immediately adjacent signals are linked.
const associationWindow = 1

// IngestSignal validates signal, resolves its EntityId to a Node (minting
// one if this is the first observation of that entity), and records the
// (attribute, value) pair against that Node. The whole operation runs under
// a single store transaction so a validation or backend failure never
// leaves a Node without its property.
func IngestSignal(store storage.GraphStore, signal kremis.Signal) (kremis.NodeId, error) {
	if err := signal.Validate(); err != nil {
		return 0, err
	}

	var node kremis.NodeId
	err := store.Transact(func(tx storage.GraphStore) error {
		id, err := tx.UpsertNode(signal.EntityId)
		if err != nil {
			return err
		}
		if err := tx.AppendProperty(id, signal.Attribute, signal.Value); err != nil {
			return err
		}
		node = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return node, nil
}

// IngestSequence ingests every signal in order and then associates each
// pair of signals associationWindow apart by incrementing the edge between
// their resolved Nodes. A signal observed for the same EntityId more than
// once in the sequence resolves to the same Node each time, so a repeated
// pair strengthens a single edge rather than creating new ones, and two
// adjacent signals for the same entity produce a self-loop.
//
// The entire sequence — every node/property write and every edge increment
// — runs inside one store.Transact call, so a failure partway through
// leaves the graph exactly as it was before IngestSequence was called.
func IngestSequence(store storage.GraphStore, signals []kremis.Signal) ([]kremis.NodeId, error) {
	if len(signals) == 0 {
		return nil, nil
	}
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	nodes := make([]kremis.NodeId, len(signals))
	err := store.Transact(func(tx storage.GraphStore) error {
		for i, s := range signals {
			id, err := tx.UpsertNode(s.EntityId)
			if err != nil {
				return err
			}
			if err := tx.AppendProperty(id, s.Attribute, s.Value); err != nil {
				return err
			}
			nodes[i] = id
		}
		for i := 0; i+associationWindow < len(nodes); i++ {
			if _, err := tx.IncrementEdge(nodes[i], nodes[i+associationWindow]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
