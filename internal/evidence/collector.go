// Package evidence attaches immutable artifacts to SOS events.
package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/metrics"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Payload is what a client submits for one artifact. File backed kinds
// need either StorageRef or Data.
type Payload struct {
	StorageRef  string            `json:"storage_ref,omitempty"`
	Data        []byte            `json:"data,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	CapturedAt  time.Time         `json:"captured_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Listing is the result of List.
type Listing struct {
	Records []safety.EvidenceRecord     `json:"records"`
	Counts  map[safety.EvidenceKind]int `json:"counts"`
	Total   int                         `json:"total"`
}

// Collector validates, uploads and records evidence.
type Collector struct {
	store  safety.Store
	blobs  BlobStore
	clock  safety.Clock
	logger *zap.Logger
	newID  func() string
}

// NewCollector returns a Collector. blobs may be nil when clients always
// upload out of band and send a StorageRef.
func NewCollector(store safety.Store, blobs BlobStore, clock safety.Clock, logger *zap.Logger) *Collector {
	if clock == nil {
		clock = safety.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{store: store, blobs: blobs, clock: clock, logger: logger, newID: uuid.NewString}
}

// Save records one artifact for event sosID. It works regardless of the
// event's status.
func (c *Collector) Save(ctx context.Context, sosID string, kind safety.EvidenceKind, p Payload) (*safety.EvidenceRecord, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown evidence kind %q", safety.ErrInvalidInput, kind)
	}
	if _, err := c.store.GetEvent(ctx, sosID); err != nil {
		return nil, safety.WrapStorage("get event", err)
	}

	id := c.newID()
	ref, err := c.storageRef(ctx, sosID, id, kind, p)
	if err != nil {
		return nil, err
	}

	captured := p.CapturedAt
	if captured.IsZero() {
		captured = c.clock.Now()
	}
	rec := &safety.EvidenceRecord{
		ID:         id,
		SOSEventID: sosID,
		Kind:       kind,
		StorageRef: ref,
		CapturedAt: captured,
		Metadata:   p.Metadata,
	}
	if err := c.store.AddEvidence(ctx, rec); err != nil {
		return nil, safety.WrapStorage("add evidence", err)
	}
	metrics.EvidenceSaved.WithLabelValues(string(kind)).Inc()
	c.logger.Info("evidence saved",
		zap.String("sos_event_id", sosID),
		zap.String("evidence_id", id),
		zap.String("kind", string(kind)),
	)
	return rec, nil
}

func (c *Collector) storageRef(ctx context.Context, sosID, id string, kind safety.EvidenceKind, p Payload) (string, error) {
	if p.StorageRef != "" {
		return p.StorageRef, nil
	}
	if !kind.FileBacked() {
		return "inline://" + string(kind), nil
	}
	if len(p.Data) == 0 {
		return "", fmt.Errorf("%w: %s evidence needs a storage reference or data", safety.ErrInvalidInput, kind)
	}
	if c.blobs == nil {
		return "", fmt.Errorf("%w: no blob store configured", safety.ErrEvidenceUploadFailed)
	}
	ref, err := c.blobs.Put(ctx, sosID+"/"+string(kind)+"/"+id, p.Data, p.ContentType)
	if err != nil {
		c.logger.Error("evidence upload failed",
			zap.String("sos_event_id", sosID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", safety.ErrEvidenceUploadFailed, err)
	}
	return ref, nil
}

// List returns the evidence for sosID, optionally filtered by kind. Counts
// always cover every kind.
func (c *Collector) List(ctx context.Context, sosID string, kind safety.EvidenceKind) (*Listing, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown evidence kind %q", safety.ErrInvalidInput, kind)
	}
	all, err := c.store.ListEvidence(ctx, sosID)
	if err != nil {
		return nil, safety.WrapStorage("list evidence", err)
	}
	out := &Listing{Records: []safety.EvidenceRecord{}, Counts: make(map[safety.EvidenceKind]int, len(safety.EvidenceKinds))}
	for _, k := range safety.EvidenceKinds {
		out.Counts[k] = 0
	}
	for _, r := range all {
		out.Counts[r.Kind]++
		if kind == "" || r.Kind == kind {
			out.Records = append(out.Records, r)
		}
	}
	out.Total = len(all)
	return out, nil
}
