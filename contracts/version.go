package contracts

import (
	"time"

	"github.com/google/uuid"
)

// ContentPayload is the opaque content blob supplied by callers. The
// engine only inspects the top-level fields required by validation
// (identifier, body, metadata); everything else passes through untouched.
type ContentPayload map[string]interface{}

// TransitionPayload carries the data attached to a single workflow
// transition, validated against the matched rule's schema.
type TransitionPayload map[string]interface{}

// Metadata is the free-form key-value map attached to a Version.
type Metadata map[string]string

// Version is an immutable, numbered snapshot of content. Once written it
// is never updated or deleted; new content becomes a new Version with the
// next number for the same ContentID.
type Version struct {
	ID            string         `json:"id"`
	ContentID     string         `json:"contentId"`
	VersionNumber int            `json:"versionNumber"`
	Payload       ContentPayload `json:"payload"`
	Metadata      Metadata       `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// NewVersion creates a Version with a generated ID and UTC timestamp.
// The version number is assigned by the caller under its numbering lock.
func NewVersion(contentID string, number int, payload ContentPayload, metadata Metadata) *Version {
	return &Version{
		ID:            uuid.New().String(),
		ContentID:     contentID,
		VersionNumber: number,
		Payload:       payload,
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
}

// Clone returns a deep copy so stored records cannot be mutated through
// handed-out references.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Payload != nil {
		cp.Payload = make(ContentPayload, len(v.Payload))
		for k, val := range v.Payload {
			cp.Payload[k] = val
		}
	}
	if v.Metadata != nil {
		cp.Metadata = make(Metadata, len(v.Metadata))
		for k, val := range v.Metadata {
			cp.Metadata[k] = val
		}
	}
	return &cp
}

// State is one append-only workflow status record for a Version. The row
// with the highest Sequence for a VersionID is that version's current
// state; older rows are retained as history and never mutated.
type State struct {
	ID        string            `json:"id"`
	VersionID string            `json:"versionId"`
	Name      string            `json:"name"`
	Sequence  int               `json:"sequence"`
	Data      TransitionPayload `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewState creates a State with a generated ID and UTC timestamp. The
// sequence is assigned by the caller under the per-version lock.
func NewState(versionID, name string, sequence int, data TransitionPayload) *State {
	return &State{
		ID:        uuid.New().String(),
		VersionID: versionID,
		Name:      name,
		Sequence:  sequence,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the state record.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Data != nil {
		cp.Data = make(TransitionPayload, len(s.Data))
		for k, val := range s.Data {
			cp.Data[k] = val
		}
	}
	return &cp
}

// SecurityContext identifies the caller for authorization checks. The
// engine treats it as opaque and hands it to the configured SecurityGate.
type SecurityContext struct {
	Subject    string            `json:"subject"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
