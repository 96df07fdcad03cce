// Package session provides the Session façade: the single entry point an
// embedder uses to open a backend, ingest signals, run queries, export or
// import either wire format, and inspect the graph's derived status and
// stage. A Session owns exactly one backend and is single-owner — nothing
// in this package takes a lock, and concurrent callers must serialize
// themselves before sharing one (spec §5).
package session

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"lukechampine.com/blake3"

	"github.com/TyKolt/kremis/pkg/codec"
	"github.com/TyKolt/kremis/pkg/compose"
	"github.com/TyKolt/kremis/pkg/ingest"
	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/kremisconfig"
	"github.com/TyKolt/kremis/pkg/storage"
)

// Stage buckets a graph's stable-edge count into an informational maturity
// level. It never gates behavior — nothing in the core branches on it.
type Stage string

const (
	StageS0 Stage = "S0"
	StageS1 Stage = "S1"
	StageS2 Stage = "S2"
	StageS3 Stage = "S3"
)

// stageThreshold pairs a Stage with the stable-edge count at which it
// begins.
type stageThreshold struct {
	stage     Stage
	threshold int64
}

// stageThresholds are the stable-edge counts spec §6.1 fixes for each
// stage's lower bound, in ascending order.
var stageThresholds = []stageThreshold{
	{StageS0, 0},
	{StageS1, 100},
	{StageS2, 1000},
	{StageS3, 5000},
}

// Status is a point-in-time summary of graph size and connectivity.
type Status struct {
	NodeCount         int64
	EdgeCount         int64
	StableEdges       int64
	DensityMillionths int64
}

// StageReport is the result of Stage(): the current stage, its progress
// toward the next one, and the stable-edge counts that position was derived
// from.
type StageReport struct {
	Stage              Stage
	StableEdgesCurrent int64
	StableEdgesNeeded  int64
	ProgressPercent    int64
}

// QueryKind selects which Compositor operation Query dispatches to.
type QueryKind string

const (
	QueryLookup           QueryKind = "lookup"
	QueryTraverse         QueryKind = "traverse"
	QueryTraverseFiltered QueryKind = "traverse_filtered"
	QueryStrongestPath    QueryKind = "strongest_path"
	QueryIntersect        QueryKind = "intersect"
	QueryRelated          QueryKind = "related"
	QueryProperties       QueryKind = "properties"
)

// Query describes one read operation; only the fields relevant to Kind are
// consulted.
type Query struct {
	Kind QueryKind

	Entity kremis.EntityId // QueryLookup

	Node  kremis.NodeId // QueryTraverse, QueryTraverseFiltered, QueryRelated, QueryProperties, QueryStrongestPath (start)
	End   kremis.NodeId // QueryStrongestPath
	Depth int           // QueryTraverse, QueryTraverseFiltered, QueryRelated

	MinWeight kremis.EdgeWeight // QueryTraverseFiltered

	Nodes []kremis.NodeId // QueryIntersect
}

// QueryResult holds whichever of Artifact or Properties the dispatched
// query kind produces; spec.md's query dispatch names both "Artifact"
// broadly, but properties(node) returns an attribute-sorted map rather
// than a path/subgraph, so this package keeps the two shapes distinct
// instead of forcing properties into the path-shaped Artifact.
type QueryResult struct {
	Artifact   kremis.Artifact
	Properties []storage.PropertyEntry
}

// Session owns one GraphStore backend and a volatile, never-serialized
// scratch buffer. All writes route through pkg/ingest; all reads through
// pkg/compose.
type Session struct {
	store   storage.GraphStore
	log     logr.Logger
	context *ContextBuffer
}

// New opens an in-memory Session, taking its log verbosity from
// kremisconfig.LoadFromEnv() (KREMIS_LOG_LEVEL) since an in-memory graph has
// no persistence tuning to read.
func New() *Session {
	return NewWithConfig(kremisconfig.LoadFromEnv())
}

// NewWithConfig opens an in-memory Session using cfg.Logging explicitly,
// bypassing the environment.
func NewWithConfig(cfg *kremisconfig.Config) *Session {
	return newSession(storage.NewMemoryGraph(), newLogger(cfg.Logging.Level))
}

// Open opens a persistent Session backed by the BadgerDB directory at path,
// applying kremisconfig.LoadFromEnv()'s persistence tuning (KREMIS_SYNC_WRITES,
// KREMIS_LOW_MEMORY) and log verbosity (KREMIS_LOG_LEVEL). BadgerDB creates
// the directory if it is absent; use Create with force to truncate one.
func Open(path string) (*Session, error) {
	return OpenWithConfig(path, kremisconfig.LoadFromEnv())
}

// OpenWithConfig opens a persistent Session backed by the BadgerDB directory
// at path, using cfg explicitly instead of reading the environment.
// cfg.Persistence.DataDir is ignored in favor of path.
func OpenWithConfig(path string, cfg *kremisconfig.Config) (*Session, error) {
	log := newLogger(cfg.Logging.Level)
	store, err := storage.OpenPersistentGraphWithOptions(storage.BadgerOptions{
		DataDir:    path,
		SyncWrites: cfg.Persistence.SyncWrites,
		LowMemory:  cfg.Persistence.LowMemory,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	return newSession(store, log), nil
}

// Create opens or initializes a persistent Session at path, applying
// kremisconfig.LoadFromEnv() as Open does. If force is true and path already
// contains data, it is truncated first.
func Create(path string, force bool) (*Session, error) {
	return CreateWithConfig(path, force, kremisconfig.LoadFromEnv())
}

// CreateWithConfig opens or initializes a persistent Session at path using
// cfg explicitly instead of reading the environment. If force is true and
// path already contains data, it is truncated first.
func CreateWithConfig(path string, force bool, cfg *kremisconfig.Config) (*Session, error) {
	if force {
		if err := os.RemoveAll(path); err != nil {
			return nil, kremis.NewBackendIo("failed to truncate existing database directory", err)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, kremis.NewBackendIo("failed to create database directory", err)
	}
	return OpenWithConfig(path, cfg)
}

func newSession(store storage.GraphStore, log logr.Logger) *Session {
	return &Session{store: store, log: log, context: newContextBuffer()}
}

// newLogger builds the stdr-backed logr.Logger every Kremis-Core component
// shares (spec §4.j). stdr's verbosity threshold is process-global rather
// than per-logger, so this sets it once per Session construction before
// handing back the logger.
func newLogger(level int) logr.Logger {
	stdr.SetVerbosity(level)
	return stdr.New(nil)
}

// Context returns the Session's volatile scratch buffer. Nothing written
// here is ever included in an export.
func (s *Session) Context() *ContextBuffer {
	return s.context
}

// Close releases the underlying backend's resources.
func (s *Session) Close() error {
	return s.store.Close()
}

// Ingest validates and records a single signal, returning the Node it
// resolved to.
func (s *Session) Ingest(signal kremis.Signal) (kremis.NodeId, error) {
	return ingest.IngestSignal(s.store, signal)
}

// IngestBatch records every signal's node and property atomically, without
// creating edges between them. Use IngestSequence for windowed edge
// association.
func (s *Session) IngestBatch(signals []kremis.Signal) ([]kremis.NodeId, error) {
	return s.store.BatchIngest(signals)
}

// IngestSequence records every signal and associates temporally adjacent
// ones with a weighted edge, atomically.
func (s *Session) IngestSequence(signals []kremis.Signal) ([]kremis.NodeId, error) {
	return ingest.IngestSequence(s.store, signals)
}

// Query dispatches q to the matching Compositor operation.
func (s *Session) Query(q Query) (QueryResult, error) {
	switch q.Kind {
	case QueryLookup:
		node, found, err := s.store.Lookup(q.Entity)
		if err != nil {
			return QueryResult{}, err
		}
		if !found {
			return QueryResult{}, kremis.NewNodeNotFound(node)
		}
		return QueryResult{Artifact: kremis.Artifact{Path: []kremis.NodeId{node}}}, nil

	case QueryTraverse:
		artifact, err := compose.Compose(s.store, q.Node, q.Depth)
		return QueryResult{Artifact: artifact}, err

	case QueryTraverseFiltered:
		artifact, err := compose.ComposeFiltered(s.store, q.Node, q.Depth, q.MinWeight)
		return QueryResult{Artifact: artifact}, err

	case QueryStrongestPath:
		artifact, err := compose.StrongestPath(s.store, q.Node, q.End)
		return QueryResult{Artifact: artifact}, err

	case QueryIntersect:
		artifact, err := compose.Intersect(s.store, q.Nodes)
		return QueryResult{Artifact: artifact}, err

	case QueryRelated:
		artifact, err := compose.RelatedContext(s.store, q.Node, q.Depth)
		return QueryResult{Artifact: artifact}, err

	case QueryProperties:
		props, found, err := compose.Properties(s.store, q.Node)
		if err != nil {
			return QueryResult{}, err
		}
		if !found {
			return QueryResult{}, kremis.NewNodeNotFound(q.Node)
		}
		return QueryResult{Properties: props}, nil

	default:
		return QueryResult{}, kremis.NewInvalidSignal(fmt.Sprintf("unknown query kind %q", q.Kind))
	}
}

// Status summarizes the graph's current size and connectivity.
func (s *Session) Status() (Status, error) {
	nodeCount, err := s.store.NodeCount()
	if err != nil {
		return Status{}, err
	}
	edgeCount, err := s.store.EdgeCount()
	if err != nil {
		return Status{}, err
	}
	stableEdges, err := s.store.StableEdgeCount()
	if err != nil {
		return Status{}, err
	}
	return Status{
		NodeCount:         nodeCount,
		EdgeCount:         edgeCount,
		StableEdges:       stableEdges,
		DensityMillionths: densityMillionths(nodeCount, edgeCount),
	}, nil
}

// densityMillionths computes ⌊edges·1_000_000 / max(1, nodes·(nodes-1))⌋
// using pure integer arithmetic per spec §6.1 — no floating point is ever
// involved in a Kremis-Core derived metric.
func densityMillionths(nodes, edges int64) int64 {
	denominator := nodes * (nodes - 1)
	if denominator < 1 {
		denominator = 1
	}
	return (edges * 1_000_000) / denominator
}

// Stage derives an informational maturity level from the current stable
// edge count.
func (s *Session) Stage() (StageReport, error) {
	stable, err := s.store.StableEdgeCount()
	if err != nil {
		return StageReport{}, err
	}

	current := stageThresholds[0]
	var next *stageThreshold
	for _, t := range stageThresholds {
		t := t
		if stable >= t.threshold {
			current = t
		} else if next == nil {
			next = &t
			break
		}
	}

	report := StageReport{Stage: current.stage, StableEdgesCurrent: stable}
	if next == nil {
		report.StableEdgesNeeded = current.threshold
		report.ProgressPercent = 100
		return report, nil
	}
	report.StableEdgesNeeded = next.threshold
	report.ProgressPercent = (stable * 100) / next.threshold
	return report, nil
}

// ExportCanonical returns the graph's bit-exact, checksummed verification
// encoding.
func (s *Session) ExportCanonical() ([]byte, error) {
	snap, err := s.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return codec.EncodeCanonical(snap), nil
}

// ImportCanonical replays the graph encoded in b into the Session. Because
// NodeIds are minted densely from 0 in upsert order, ImportCanonical must
// be called on a Session with no prior ingestion — calling it on a
// non-empty Session would reassign EntityIds to new NodeIds rather than
// restoring the original ones.
func (s *Session) ImportCanonical(b []byte) error {
	snap, err := codec.DecodeCanonical(b)
	if err != nil {
		s.logImportRejection(err)
		return err
	}
	return s.restoreSnapshot(snap)
}

// ExportPersistence returns the graph's on-disk snapshot encoding.
func (s *Session) ExportPersistence() ([]byte, error) {
	snap, err := s.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return codec.EncodePersistence(snap)
}

// ImportPersistence replays the graph encoded in b into the Session, under
// the same empty-Session precondition as ImportCanonical.
func (s *Session) ImportPersistence(b []byte) error {
	snap, err := codec.DecodePersistence(b)
	if err != nil {
		s.logImportRejection(err)
		return err
	}
	return s.restoreSnapshot(snap)
}

// logImportRejection logs the checksum-mismatch and oversized-payload events
// spec §4.j names for the Logging component, without swallowing err — the
// caller still receives and returns the same typed error codec.DecodeCanonical
// or codec.DecodePersistence produced. pkg/codec itself stays logger-free so
// its decode functions remain pure: Session is the one caller positioned to
// decide these specific kinds are worth a log line.
func (s *Session) logImportRejection(err error) {
	var kerr *kremis.Error
	if !errors.As(err, &kerr) {
		return
	}
	switch kerr.Kind {
	case kremis.KindChecksumMismatch, kremis.KindImportTooLarge, kremis.KindPayloadTooLarge:
		s.log.Info("import rejected", "kind", kerr.Kind, "reason", kerr.Reason)
	}
}

func (s *Session) restoreSnapshot(snap *storage.Snapshot) error {
	return s.store.Transact(func(tx storage.GraphStore) error {
		for _, n := range snap.Nodes {
			if _, err := tx.UpsertNode(n.EntityId); err != nil {
				return err
			}
		}
		for _, np := range snap.Properties {
			for _, prop := range np.Props {
				for _, v := range prop.Values {
					if err := tx.AppendProperty(np.NodeId, prop.Attribute, v); err != nil {
						return err
					}
				}
			}
		}
		for _, e := range snap.Edges {
			if err := tx.SetEdgeWeight(e.From, e.To, e.Weight); err != nil {
				return err
			}
		}
		return nil
	})
}

// Hash returns the 32-byte BLAKE3 digest of the Session's canonical export,
// a stable content fingerprint two Sessions can compare without exchanging
// their full graphs.
func (s *Session) Hash() ([32]byte, error) {
	export, err := s.ExportCanonical()
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(export), nil
}
