package ingestion

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Source Types
// ---------------------------------------------------------------------------

// SourceKind represents the channel kind of a partner source
type SourceKind string

const (
	// SourceKindSFTP pulls EDI files from a remote SFTP directory
	SourceKindSFTP SourceKind = "SFTP"
	// SourceKindREST polls a partner REST endpoint for JSON payloads
	SourceKindREST SourceKind = "REST"
)

// IsValid returns true if the source kind is valid
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceKindSFTP, SourceKindREST:
		return true
	default:
		return false
	}
}

// String returns the string representation of SourceKind
func (k SourceKind) String() string {
	return string(k)
}

// WireFormat represents the wire format a source delivers
type WireFormat string

const (
	// WireFormatEDI is a segment-delimited EDI document
	WireFormatEDI WireFormat = "EDI"
	// WireFormatJSON is a partner JSON payload
	WireFormatJSON WireFormat = "JSON"
)

// SFTPParams holds SFTP connection parameters for a source
type SFTPParams struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string
	// KnownHostsPath points at an OpenSSH known_hosts file used to verify the
	// partner's host key; when empty the host key is not checked
	KnownHostsPath string
	// Dir is the remote directory to poll
	Dir string
	// ArchiveDir is the remote directory acknowledged files are moved into
	ArchiveDir string
	// Pattern is a file name glob, e.g. "PO_*.edi"
	Pattern string
}

// RESTParams holds REST endpoint parameters for a source
type RESTParams struct {
	BaseURL string
	Token   string
	// PageSize is the maximum orders requested per list call
	PageSize int
	// MarkConsumed enables the partner's mark-consumed endpoint; when false,
	// acknowledge is a no-op and idempotency relies solely on the ledger.
	MarkConsumed bool
}

// SourceDescriptor is the static per-partner configuration.
// Owned by configuration, read-only to the core.
type SourceDescriptor struct {
	ID           string
	Kind         SourceKind
	Format       WireFormat
	PollInterval time.Duration
	SFTP         SFTPParams
	REST         RESTParams
}

// ---------------------------------------------------------------------------
// Message Handle / Raw Message
// ---------------------------------------------------------------------------

// MessageHandle identifies one fetchable unit at a source: a file on SFTP or
// a single order payload on a REST partner.
type MessageHandle struct {
	// ID is the handle identity within the source (file name, platform order id)
	ID string
	// Origin is an opaque locator for audit (remote path, endpoint URL)
	Origin string
	// Payload carries the body when the list call already returned it
	// (REST passthrough); nil otherwise.
	Payload []byte
}

// RawMessage is a fetched payload plus its origin metadata
type RawMessage struct {
	Handle     MessageHandle
	Body       []byte
	ReceivedAt time.Time
}

// ---------------------------------------------------------------------------
// SourceConnector Port
// ---------------------------------------------------------------------------

// SourceConnector abstracts a pull channel. Implementations exist for SFTP
// directories and partner REST endpoints; both share this capability set.
//
// ListAvailable returns handles in arrival order. Acknowledge must be atomic
// from the perspective of subsequent polls: an acknowledged handle never
// appears in a later ListAvailable of the same source.
type SourceConnector interface {
	// SourceID returns the source this connector serves
	SourceID() string

	// ListAvailable lists fetchable messages in arrival order
	ListAvailable(ctx context.Context) ([]MessageHandle, error)

	// Fetch retrieves the raw payload for a handle
	Fetch(ctx context.Context, handle MessageHandle) (*RawMessage, error)

	// Acknowledge marks the handle consumed at the source (archive the file,
	// call mark-consumed, advance the cursor)
	Acknowledge(ctx context.Context, handle MessageHandle) error

	// Close releases the connector's session
	Close() error
}

// CursorStore persists REST pagination cursors across cycles and restarts
type CursorStore interface {
	// Load returns the stored cursor for a source, or ErrCursorNotFound
	Load(ctx context.Context, sourceID string) (string, error)

	// Save stores the cursor for a source
	Save(ctx context.Context, sourceID, cursor string) error
}

// RawArchive stores fetched raw payloads for audit. The returned reference
// becomes the canonical order's RawReference.
type RawArchive interface {
	// Store persists the raw body and returns an opaque reference
	Store(ctx context.Context, sourceID, name string, body []byte) (string, error)
}
