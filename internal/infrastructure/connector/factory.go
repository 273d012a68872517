package connector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// ForDescriptor builds the connector matching a source descriptor's kind.
// The set of channel kinds is closed; an unknown kind is a configuration
// error, not an extension point.
func ForDescriptor(desc ingestion.SourceDescriptor, cursors ingestion.CursorStore, logger *zap.Logger) (ingestion.SourceConnector, error) {
	switch desc.Kind {
	case ingestion.SourceKindSFTP:
		return NewSFTPConnector(desc, logger)
	case ingestion.SourceKindREST:
		return NewRESTConnector(desc, cursors, logger)
	default:
		return nil, &ingestion.FatalConfigurationError{
			SourceID: desc.ID,
			Reason:   fmt.Sprintf("unknown source kind %q", desc.Kind),
		}
	}
}
