// Package normalize turns raw inspection payloads into device records.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
)

const maxIMEILength = 64

// Input carries the metadata a payload is normalized with.
type Input struct {
	Payload     json.RawMessage
	Source      string
	QueueItemID snowflake.ID
	Now         time.Time
}

// Fields is a decoded payload with case and separator insensitive lookup.
type Fields struct {
	values map[string]any
}

// Decode parses a raw payload. Numbers are kept as json.Number so IMEIs sent
// as numbers keep every digit.
func Decode(raw json.RawMessage) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Fields{}, malformed(err)
	}
	if obj == nil {
		return Fields{}, malformed(errNullPayload)
	}
	return FromMap(obj), nil
}

// FromMap indexes an already decoded object. The first spelling of a key wins.
func FromMap(obj map[string]any) Fields {
	values := make(map[string]any, len(obj))
	for k, v := range obj {
		key := foldKey(k)
		if _, exists := values[key]; exists {
			continue
		}
		values[key] = v
	}
	return Fields{values: values}
}

// Lookup returns the first non-empty value among names.
func (f Fields) Lookup(names ...string) string {
	for _, name := range names {
		v, ok := f.values[foldKey(name)]
		if !ok {
			continue
		}
		if s := stringValue(v); s != "" {
			return s
		}
	}
	return ""
}

// Overlay returns f with every key that is absent or empty in f taken from
// other. Values already present in f are kept.
func (f Fields) Overlay(other Fields) Fields {
	merged := make(map[string]any, len(f.values)+len(other.values))
	for k, v := range f.values {
		merged[k] = v
	}
	for k, v := range other.values {
		if stringValue(merged[k]) == "" {
			merged[k] = v
		}
	}
	return Fields{values: merged}
}

// IMEI resolves the device identifier of a payload.
func (f Fields) IMEI() (string, error) {
	imei := f.Lookup(imeiFields...)
	if imei == "" {
		return "", missingIMEI()
	}
	if len(imei) > maxIMEILength {
		return "", invalidIMEI("imei is longer than 64 characters")
	}
	if strings.ContainsAny(imei, " \t\r\n") {
		return "", invalidIMEI("imei contains whitespace")
	}
	return imei, nil
}

// ExtractIMEI validates that a raw payload is an object carrying an IMEI.
func ExtractIMEI(raw json.RawMessage) (string, error) {
	fields, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return fields.IMEI()
}

// Normalize builds the canonical device record for a payload.
func Normalize(in Input) (devicedomain.DeviceRecord, error) {
	fields, err := Decode(in.Payload)
	if err != nil {
		return devicedomain.DeviceRecord{}, err
	}
	return NormalizeFields(fields, in)
}

// NormalizeFields is Normalize for an already decoded payload.
func NormalizeFields(fields Fields, in Input) (devicedomain.DeviceRecord, error) {
	imei, err := fields.IMEI()
	if err != nil {
		return devicedomain.DeviceRecord{}, err
	}

	now := in.Now.UTC()
	battery := parseBattery(fields.Lookup(batteryFields...))

	record := devicedomain.DeviceRecord{
		IMEI:            imei,
		Brand:           fields.Lookup(brandFields...),
		Model:           fields.Lookup(modelFields...),
		ModelNumber:     fields.Lookup(modelNumberFields...),
		Storage:         fields.Lookup(storageFields...),
		Color:           fields.Lookup(colorFields...),
		Carrier:         fields.Lookup(carrierFields...),
		BatteryHealth:   battery,
		ConditionGrade:  strings.ToUpper(fields.Lookup(gradeFields...)),
		Notes:           fields.Lookup(notesFields...),
		Source:          in.Source,
		TestedAt:        parseTime(fields.Lookup(testedAtFields...)),
		ReportedAt:      parseTime(fields.Lookup(reportedAtFields...)),
		LastQueueItemID: in.QueueItemID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	record.WorkingStatus = ResolveWorkingStatus(fields, battery)
	return record, nil
}

// ResolveWorkingStatus applies the precedence explicit flag pair, then the
// named status field, then the battery heuristic, then yes.
func ResolveWorkingStatus(fields Fields, battery *int) devicedomain.WorkingStatus {
	if v := fields.Lookup(workingFlagFields...); v != "" {
		return classify(v)
	}
	if v := fields.Lookup(failedFlagFields...); v != "" {
		// a failed flag holding a fail-like token means "not failed";
		// anything else, including a list of failed tests, is a failure.
		t := token(v)
		if _, ok := failTokens[t]; ok || t == "NONE" {
			return devicedomain.WorkingYes
		}
		return devicedomain.WorkingNo
	}
	if v := fields.Lookup(workingStatusFields...); v != "" {
		return classify(v)
	}
	if battery != nil {
		switch {
		case *battery >= 80:
			return devicedomain.WorkingYes
		case *battery < 50:
			return devicedomain.WorkingNo
		default:
			return devicedomain.WorkingPending
		}
	}
	return devicedomain.WorkingYes
}

func classify(v string) devicedomain.WorkingStatus {
	t := token(v)
	if _, ok := passTokens[t]; ok {
		return devicedomain.WorkingYes
	}
	if _, ok := failTokens[t]; ok {
		return devicedomain.WorkingNo
	}
	return devicedomain.WorkingPending
}

func token(v string) string {
	return strings.Join(strings.Fields(strings.ToUpper(v)), " ")
}

func parseBattery(v string) *int {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > 100 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

func parseTime(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
		var t time.Time
		if secs > 1e12 {
			t = time.UnixMilli(secs).UTC()
		} else {
			t = time.Unix(secs, 0).UTC()
		}
		return &t
	}
	return nil
}

func foldKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// Model returns the model name of a payload, or "" when none is present.
func (f Fields) Model() string {
	return f.Lookup(modelFields...)
}
