package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// EDIParser interprets a segment-delimited purchase order document in the
// X12 850 style. Transaction sets are bounded by ST/SE; segments outside the
// expected schema are skipped rather than failing the document, but a missing
// or unparseable mandatory segment fails that single order record.
//
// Segment layout handled:
//
//	ST*850*<control>          transaction set start
//	BEG*00*NE*<po number>**<date YYYYMMDD>   mandatory header
//	CUR*BY*<currency>
//	N1*ST*<recipient name>
//	N3*<street1>*<street2>
//	N4*<city>*<state>*<postal>*<country>
//	PER*BD*<contact>*TE*<phone>*EM*<email>
//	TD5*****<carrier>*<method>
//	PO1**<qty>*<uom>*<unit price>**VP*<sku>
//	PID*F****<description>    applies to the preceding PO1
//	SE*<count>*<control>      transaction set end
type EDIParser struct {
	segmentTerminators string
	elementSeparator   string
}

// NewEDIParser creates an EDI parser with the conventional X12 separators
// (segments terminated by "~" or newlines, elements separated by "*")
func NewEDIParser() *EDIParser {
	return &EDIParser{
		segmentTerminators: "~\r\n",
		elementSeparator:   "*",
	}
}

// Format returns the wire format this parser handles
func (p *EDIParser) Format() ingestion.WireFormat {
	return ingestion.WireFormatEDI
}

// Parse extracts one order record per ST/SE transaction set. A record-scoped
// failure (missing BEG, unparseable numeric) is reported through the record's
// Err while the remaining transaction sets proceed. The returned error is
// non-nil only when the document contains no transaction sets at all.
func (p *EDIParser) Parse(raw []byte) ([]ingestion.ParsedRecord, error) {
	segments := p.splitSegments(raw)
	if len(segments) == 0 {
		return nil, &ingestion.MalformedMessageError{Reference: "document", Reason: "empty EDI document"}
	}

	var (
		records []ingestion.ParsedRecord
		builder *ediRecordBuilder
		ordinal int
	)
	for _, seg := range segments {
		tag := strings.ToUpper(elem(seg, 0))
		switch tag {
		case "ST":
			if builder != nil {
				// Previous set never closed; fail it rather than merging sets
				records = append(records, builder.fail("transaction set not terminated by SE"))
			}
			ordinal++
			builder = newEDIRecordBuilder(ordinal, elem(seg, 2))
		case "SE":
			if builder == nil {
				continue // stray SE outside a set
			}
			records = append(records, builder.finish())
			builder = nil
		default:
			if builder != nil {
				builder.consume(tag, seg)
			}
			// Envelope segments (ISA, GS, GE, IEA) and anything else outside a
			// transaction set carry no order data; skip them.
		}
	}
	if builder != nil {
		records = append(records, builder.fail("transaction set not terminated by SE"))
	}

	if len(records) == 0 {
		return nil, &ingestion.MalformedMessageError{Reference: "document", Reason: "no ST/SE transaction sets found"}
	}
	return records, nil
}

// splitSegments breaks the document into element slices, dropping empties
func (p *EDIParser) splitSegments(raw []byte) [][]string {
	rawSegments := strings.FieldsFunc(string(raw), func(r rune) bool {
		return strings.ContainsRune(p.segmentTerminators, r)
	})

	segments := make([][]string, 0, len(rawSegments))
	for _, s := range rawSegments {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		segments = append(segments, strings.Split(s, p.elementSeparator))
	}
	return segments
}

// elem returns element i of a segment, or "" when absent
func elem(seg []string, i int) string {
	if i >= len(seg) {
		return ""
	}
	return strings.TrimSpace(seg[i])
}

// ---------------------------------------------------------------------------
// Record builder
// ---------------------------------------------------------------------------

// ediRecordBuilder accumulates one transaction set's segments into an
// OrderRecord. The first segment-level failure sticks; later segments of the
// same set are still scanned so the set's SE boundary is honored.
type ediRecordBuilder struct {
	rec     *ingestion.OrderRecord
	ref     string
	sawBEG  bool
	failErr error
}

func newEDIRecordBuilder(ordinal int, control string) *ediRecordBuilder {
	ref := fmt.Sprintf("set %d", ordinal)
	if control != "" {
		ref = fmt.Sprintf("set %d (ST control %s)", ordinal, control)
	}
	return &ediRecordBuilder{rec: &ingestion.OrderRecord{}, ref: ref}
}

func (b *ediRecordBuilder) consume(tag string, seg []string) {
	if b.failErr != nil {
		return
	}
	switch tag {
	case "BEG":
		b.sawBEG = true
		b.rec.ExternalID = elem(seg, 3)
		b.rec.OrderDate = elem(seg, 5)
	case "CUR":
		b.rec.Currency = elem(seg, 2)
	case "N1":
		b.rec.BuyerName = elem(seg, 2)
	case "N3":
		b.rec.Street1 = elem(seg, 1)
		b.rec.Street2 = elem(seg, 2)
	case "N4":
		b.rec.City = elem(seg, 1)
		b.rec.StateProvince = elem(seg, 2)
		b.rec.PostalCode = elem(seg, 3)
		b.rec.Country = elem(seg, 4)
	case "PER":
		b.consumePER(seg)
	case "TD5":
		b.rec.ShippingCarrier = elem(seg, 5)
		b.rec.ShippingMethod = elem(seg, 6)
	case "PO1":
		b.consumePO1(seg)
	case "PID":
		if n := len(b.rec.Lines); n > 0 && b.rec.Lines[n-1].Description == "" {
			b.rec.Lines[n-1].Description = elem(seg, 5)
		}
	default:
		// Unknown segment inside the set; skip
	}
}

// consumePER scans qualifier/value pairs for phone (TE) and email (EM)
func (b *ediRecordBuilder) consumePER(seg []string) {
	for i := 3; i+1 < len(seg); i += 2 {
		switch elem(seg, i) {
		case "TE":
			b.rec.Phone = elem(seg, i+1)
		case "EM":
			b.rec.Email = elem(seg, i+1)
		}
	}
}

// consumePO1 extracts one line item. An empty quantity element maps to zero
// and is left for normalization to reject with the offending field named; a
// present but unparseable numeric fails the whole record.
func (b *ediRecordBuilder) consumePO1(seg []string) {
	line := ingestion.RecordLine{}

	if qty := elem(seg, 2); qty != "" {
		parsed, err := strconv.ParseInt(qty, 10, 64)
		if err != nil {
			b.failNumeric("PO1 quantity", qty)
			return
		}
		line.Quantity = parsed
	}

	if price := elem(seg, 4); price != "" {
		parsed, err := decimal.NewFromString(price)
		if err != nil {
			b.failNumeric("PO1 unit price", price)
			return
		}
		line.UnitPrice = parsed
	}

	// Product id qualifier pairs start at element 6; VP carries the vendor SKU
	for i := 6; i+1 < len(seg); i += 2 {
		if elem(seg, i) == "VP" {
			line.SKU = elem(seg, i+1)
		}
	}

	b.rec.Lines = append(b.rec.Lines, line)
}

func (b *ediRecordBuilder) failNumeric(what, value string) {
	b.failErr = &ingestion.MalformedMessageError{
		Reference: b.reference(),
		Reason:    fmt.Sprintf("unparseable %s %q", what, value),
	}
}

func (b *ediRecordBuilder) fail(reason string) ingestion.ParsedRecord {
	if b.failErr != nil {
		return ingestion.ParsedRecord{Err: b.failErr}
	}
	return ingestion.ParsedRecord{Err: &ingestion.MalformedMessageError{Reference: b.reference(), Reason: reason}}
}

func (b *ediRecordBuilder) finish() ingestion.ParsedRecord {
	if b.failErr != nil {
		return ingestion.ParsedRecord{Err: b.failErr}
	}
	if !b.sawBEG {
		return b.fail("mandatory BEG segment missing")
	}
	return ingestion.ParsedRecord{Record: b.rec}
}

// reference prefers the order id once BEG has been seen
func (b *ediRecordBuilder) reference() string {
	if b.rec.ExternalID != "" {
		return b.rec.ExternalID
	}
	return b.ref
}
