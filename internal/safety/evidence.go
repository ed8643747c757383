package safety

import "time"

// EvidenceKind classifies an evidence artifact.
type EvidenceKind string

const (
	EvidencePhoto    EvidenceKind = "photo"
	EvidenceAudio    EvidenceKind = "audio"
	EvidenceScreen   EvidenceKind = "screen"
	EvidenceLocation EvidenceKind = "location"
	EvidenceSensor   EvidenceKind = "sensor"
)

// EvidenceKinds lists every kind in display order.
var EvidenceKinds = []EvidenceKind{EvidencePhoto, EvidenceAudio, EvidenceScreen, EvidenceLocation, EvidenceSensor}

// Valid reports whether k is a known kind.
func (k EvidenceKind) Valid() bool {
	for _, v := range EvidenceKinds {
		if k == v {
			return true
		}
	}
	return false
}

// FileBacked reports whether the kind needs a blob storage reference.
func (k EvidenceKind) FileBacked() bool {
	return k == EvidencePhoto || k == EvidenceAudio || k == EvidenceScreen
}

// EvidenceRecord is an immutable artifact attached to an SOS event.
type EvidenceRecord struct {
	ID         string            `json:"id"`
	SOSEventID string            `json:"sos_event_id"`
	Kind       EvidenceKind      `json:"kind"`
	StorageRef string            `json:"storage_ref"`
	CapturedAt time.Time         `json:"captured_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
