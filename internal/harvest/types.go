// Package harvest defines the core types shared across the harvesting pipeline.
package harvest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Credentials identify the account used against the authentication endpoint.
// They live for a single run and are never persisted.
type Credentials struct {
	Username string
	Password string
}

// Validate ensures both fields are populated.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// String hides the password so credentials can't leak through %v.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username:%q}", c.Username)
}

// Token is the bearer credential issued by the authenticator.
type Token struct {
	Value      string
	ObtainedAt time.Time
	ExpiresAt  time.Time
}

// Valid reports whether the token can still be presented at now.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(t.ExpiresAt)
}

// Header returns the Authorization header value.
func (t Token) Header() string {
	return "Bearer " + t.Value
}

// String never prints the token value.
func (t Token) String() string {
	return fmt.Sprintf("Token{ObtainedAt:%s ExpiresAt:%s}", t.ObtainedAt.Format(time.RFC3339), t.ExpiresAt.Format(time.RFC3339))
}

// Link is an opaque URI for a downloadable resource.
type Link = string

// ResourceMetadata is produced once per successfully probed link.
type ResourceMetadata struct {
	URI           string     `json:"uri"`
	ContentLength *int64     `json:"content_length,omitempty"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	ProbedAt      time.Time  `json:"probed_at"`
}

// ProbeResult holds the outcome of probing a single link. Exactly one of
// Metadata and Err is set.
type ProbeResult struct {
	Link     Link
	Metadata *ResourceMetadata
	Err      *ProbeError
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool {
	return r.Err == nil && r.Metadata != nil
}

// SnapshotRecord is the single aggregated document written per run.
type SnapshotRecord struct {
	RunID                string             `json:"run_id"`
	RetrievedAt          time.Time          `json:"retrieved_at"`
	TotalResourcesProbed int                `json:"total_resources_probed"`
	Resources            []ResourceMetadata `json:"resources"`
}

// Empty reports whether the record carries no resources.
func (r SnapshotRecord) Empty() bool {
	return len(r.Resources) == 0
}

// Validate enforces the record invariants before persistence.
func (r SnapshotRecord) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidRecord)
	}
	if r.RetrievedAt.IsZero() {
		return fmt.Errorf("%w: retrieved_at is required", ErrInvalidRecord)
	}
	if r.TotalResourcesProbed != len(r.Resources) {
		return fmt.Errorf("%w: total_resources_probed=%d but %d resources",
			ErrInvalidRecord, r.TotalResourcesProbed, len(r.Resources))
	}
	return nil
}

// ErrInvalidRecord marks a snapshot that violates its invariants.
var ErrInvalidRecord = errors.New("invalid snapshot record")
