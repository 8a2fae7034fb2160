package ingest

import (
	"strings"

	"github.com/tidwall/gjson"
)

// PayloadShape names the structural variants an inbound payload may take.
type PayloadShape string

const (
	// ShapeList is a bare JSON array of records.
	ShapeList PayloadShape = "list"
	// ShapeRecordsEnvelope is {"records": [...]}.
	ShapeRecordsEnvelope PayloadShape = "records_envelope"
	// ShapeDataEnvelope is {"data": [...]} or {"items": [...]}.
	ShapeDataEnvelope PayloadShape = "data_envelope"
	// ShapeInvalid is anything else.
	ShapeInvalid PayloadShape = "invalid"
)

// envelopeFields maps wrapper keys to their shape, in lookup order.
var envelopeFields = []struct {
	key   string
	shape PayloadShape
}{
	{"records", ShapeRecordsEnvelope},
	{"data", ShapeDataEnvelope},
	{"items", ShapeDataEnvelope},
}

// resolvedPayload is the outcome of shape detection: the variant and, unless
// invalid, the list of record values.
type resolvedPayload struct {
	Shape   PayloadShape
	Records []gjson.Result
	Reason  string
}

func resolvePayload(raw string) resolvedPayload {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return resolvedPayload{Shape: ShapeInvalid, Reason: "payload is empty"}
	}
	if !gjson.Valid(trimmed) {
		return resolvedPayload{Shape: ShapeInvalid, Reason: "payload is not valid JSON"}
	}

	root := gjson.Parse(trimmed)
	if root.IsArray() {
		return resolvedPayload{Shape: ShapeList, Records: root.Array()}
	}
	if root.IsObject() {
		for _, env := range envelopeFields {
			field := root.Get(env.key)
			if field.IsArray() {
				return resolvedPayload{Shape: env.shape, Records: field.Array()}
			}
		}
		return resolvedPayload{Shape: ShapeInvalid, Reason: `object payload must contain a "records", "data" or "items" array`}
	}
	return resolvedPayload{Shape: ShapeInvalid, Reason: "payload must be a JSON array or an object wrapping one"}
}

// Field aliases accepted on inbound records, first match wins.
var (
	idFields        = []string{"id", "external_id", "externalId"}
	arrivalFields   = []string{"arrival", "arrival_at", "arrivalAt"}
	departureFields = []string{"departure", "departure_at", "departureAt"}
	effortFields    = []string{"effort_hours", "effortHours", "duration"}
	typeFields      = []string{"type", "asset_type", "assetType"}
	partyFields     = []string{"party", "customer", "client"}
	assetFields     = []string{"asset", "asset_id", "assetId"}
	statusFields    = []string{"status"}
)

// lookup returns the first alias present with a non-null value.
func lookup(obj gjson.Result, aliases []string) (gjson.Result, string, bool) {
	for _, alias := range aliases {
		v := obj.Get(gjson.Escape(alias))
		if v.Exists() && v.Type != gjson.Null {
			return v, alias, true
		}
	}
	return gjson.Result{}, aliases[0], false
}

func lookupString(obj gjson.Result, aliases []string) string {
	v, _, ok := lookup(obj, aliases)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}

var cancellationSpellings = map[string]bool{
	"cancelled":    true,
	"canceled":     true,
	"cancel":       true,
	"cancellation": true,
	"annulled":     true,
	"storno":       true,
	"storniert":    true,
}

// IsCancellation reports whether status is one of the recognised spellings of
// a cancelled event.
func IsCancellation(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
	return cancellationSpellings[s]
}

// NormalizeStatus maps cancellation variants to StatusCancelled and leaves
// every other status untouched.
func NormalizeStatus(status string) string {
	if IsCancellation(status) {
		return StatusCancelled
	}
	return status
}
