// Package ingestion defines the ports and core types of the purchase-order
// ingestion pipeline: source connectors (SFTP, REST), message parsers (EDI,
// JSON), the deduplication ledger that guarantees at-most-once effect on the
// ERP, and the delivery client boundary.
package ingestion
