package ingest

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	maxReportedErrors   = 20
	maxWarningPositions = 20
)

const (
	WarnMissingEffort = "missing_effort"
	WarnMissingType   = "missing_type"
	WarnCancelled     = "cancelled_status"
)

// ParsedRecord is an inbound record with its well-known fields resolved.
type ParsedRecord struct {
	Index       int
	ID          string
	AssetID     string
	AssetType   string
	Party       string
	Status      string
	ArrivalAt   *time.Time
	DepartureAt *time.Time
	EffortHours *float64
	Raw         string
}

// FieldError is a hard validation failure. Index is -1 for payload-level
// errors.
type FieldError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Warning aggregates one non-fatal finding across the payload.
type Warning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Count     int    `json:"count"`
	Positions []int  `json:"positions"`
}

type Summary struct {
	RecordCount int        `json:"recordCount"`
	PartyCount  int        `json:"partyCount"`
	AssetCount  int        `json:"assetCount"`
	EarliestAt  *time.Time `json:"earliestAt,omitempty"`
	LatestAt    *time.Time `json:"latestAt,omitempty"`
}

type Report struct {
	Shape           PayloadShape   `json:"shape"`
	Errors          []FieldError   `json:"errors"`
	TruncatedErrors int            `json:"truncatedErrors"`
	Warnings        []Warning      `json:"warnings"`
	Summary         Summary        `json:"summary"`
	Records         []ParsedRecord `json:"-"`
}

// Valid reports whether the payload may be committed. Warnings never block.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0 && r.TruncatedErrors == 0
}

func (r *Report) addError(index int, field, message string) {
	if len(r.Errors) >= maxReportedErrors {
		r.TruncatedErrors++
		return
	}
	r.Errors = append(r.Errors, FieldError{Index: index, Field: field, Message: message})
}

// CheckSize enforces the payload byte ceiling. maxBytes <= 0 disables it.
func CheckSize(size, maxBytes int64) error {
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, size, maxBytes)
	}
	return nil
}

// Validate decodes raw and classifies it. The returned error is non-nil only
// for the size limit; content problems are reported in the Report.
func Validate(raw string, maxBytes int64) (*Report, error) {
	if err := CheckSize(int64(len(raw)), maxBytes); err != nil {
		return nil, err
	}

	report := &Report{Errors: []FieldError{}, Warnings: []Warning{}}
	if !utf8.ValidString(raw) {
		report.Shape = ShapeInvalid
		report.addError(-1, "$", "payload is not valid UTF-8 text")
		return report, nil
	}

	payload := resolvePayload(raw)
	report.Shape = payload.Shape
	if payload.Shape == ShapeInvalid {
		report.addError(-1, "$", payload.Reason)
		return report, nil
	}

	warnings := newWarningSet()
	parties := map[string]struct{}{}
	assets := map[string]struct{}{}

	for i, item := range payload.Records {
		if !item.IsObject() {
			report.addError(i, "$", "record must be a JSON object")
			continue
		}

		rec := ParsedRecord{Index: i, Raw: item.Raw}
		recordOK := true

		rec.ID = lookupString(item, idFields)
		if rec.ID == "" {
			report.addError(i, idFields[0], "missing record identifier")
			recordOK = false
		}

		arrival, arrivalErr := lookupTime(item, arrivalFields)
		departure, departureErr := lookupTime(item, departureFields)
		if arrivalErr != nil {
			report.addError(i, arrivalFields[0], arrivalErr.Error())
			recordOK = false
		}
		if departureErr != nil {
			report.addError(i, departureFields[0], departureErr.Error())
			recordOK = false
		}
		if arrivalErr == nil && departureErr == nil && arrival == nil && departure == nil {
			report.addError(i, arrivalFields[0], "record needs an arrival or departure timestamp")
			recordOK = false
		}
		rec.ArrivalAt = arrival
		rec.DepartureAt = departure

		rec.EffortHours = lookupNumber(item, effortFields)
		if rec.EffortHours == nil {
			warnings.add(WarnMissingEffort, "effort missing; the configured default applies", i)
		}

		rec.AssetType = lookupString(item, typeFields)
		if rec.AssetType == "" {
			warnings.add(WarnMissingType, "type missing; resolved by asset classification", i)
		}

		rec.Status = lookupString(item, statusFields)
		if IsCancellation(rec.Status) {
			warnings.add(WarnCancelled, "cancelled record; stored but hidden from reports", i)
		}

		rec.Party = lookupString(item, partyFields)
		rec.AssetID = lookupString(item, assetFields)

		if !recordOK {
			continue
		}

		if rec.Party != "" {
			parties[rec.Party] = struct{}{}
		}
		if rec.AssetID != "" {
			assets[rec.AssetID] = struct{}{}
		}
		for _, ts := range []*time.Time{rec.ArrivalAt, rec.DepartureAt} {
			if ts == nil {
				continue
			}
			if report.Summary.EarliestAt == nil || ts.Before(*report.Summary.EarliestAt) {
				t := *ts
				report.Summary.EarliestAt = &t
			}
			if report.Summary.LatestAt == nil || ts.After(*report.Summary.LatestAt) {
				t := *ts
				report.Summary.LatestAt = &t
			}
		}
		report.Records = append(report.Records, rec)
	}

	report.Summary.RecordCount = len(payload.Records)
	report.Summary.PartyCount = len(parties)
	report.Summary.AssetCount = len(assets)
	report.Warnings = warnings.list()
	return report, nil
}

func lookupTime(obj gjson.Result, aliases []string) (*time.Time, error) {
	v, field, ok := lookup(obj, aliases)
	if !ok {
		return nil, nil
	}
	if v.Type != gjson.String || v.String() == "" {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp string", field)
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return nil, fmt.Errorf("%s is not an RFC 3339 timestamp: %q", field, v.String())
	}
	t = t.UTC()
	return &t, nil
}

func lookupNumber(obj gjson.Result, aliases []string) *float64 {
	v, _, ok := lookup(obj, aliases)
	if !ok {
		return nil
	}
	switch v.Type {
	case gjson.Number:
		n := v.Float()
		return &n
	case gjson.String:
		n, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

type warningSet struct {
	order []string
	byKey map[string]*Warning
}

func newWarningSet() *warningSet {
	return &warningSet{byKey: map[string]*Warning{}}
}

func (w *warningSet) add(code, message string, index int) {
	entry, ok := w.byKey[code]
	if !ok {
		entry = &Warning{Code: code, Message: message, Positions: []int{}}
		w.byKey[code] = entry
		w.order = append(w.order, code)
	}
	entry.Count++
	if len(entry.Positions) < maxWarningPositions {
		entry.Positions = append(entry.Positions, index)
	}
}

func (w *warningSet) list() []Warning {
	out := make([]Warning, 0, len(w.order))
	for _, code := range w.order {
		out = append(out, *w.byKey[code])
	}
	return out
}
