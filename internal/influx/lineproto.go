package influx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	UtilizationMeasurement = "utilization"
	StudioTag              = "studio"
	UtilizationField       = "utilization"
)

// Tag is one line protocol tag.
type Tag struct {
	Key   string
	Value string
}

// Field is one line protocol field. Value may be an int, int64, float64,
// bool or string.
type Field struct {
	Key   string
	Value any
}

// Record is one point to be written at second precision.
type Record struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Time        time.Time
}

// UtilizationRecord builds the point stored for one studio reading.
func UtilizationRecord(studio string, percentage int, at time.Time) Record {
	return Record{
		Measurement: UtilizationMeasurement,
		Tags:        []Tag{{Key: StudioTag, Value: studio}},
		Fields:      []Field{{Key: UtilizationField, Value: percentage}},
		Time:        at,
	}
}

var (
	measurementEscaper = strings.NewReplacer(`,`, `\,`, ` `, `\ `, "\n", `\n`)
	tagEscaper         = strings.NewReplacer(`,`, `\,`, `=`, `\=`, ` `, `\ `, "\n", `\n`)
	stringEscaper      = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// FormatLine renders r as
// <measurement>[,<tag>=<value>...] <field>=<value>[,...] <unix seconds>.
// Tags are sorted by key. Integers are written without the i suffix, so the
// store keeps them as floats.
func FormatLine(r Record) (string, error) {
	if r.Measurement == "" {
		return "", fmt.Errorf("record has no measurement")
	}
	if len(r.Fields) == 0 {
		return "", fmt.Errorf("record %s has no fields", r.Measurement)
	}

	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(r.Measurement))

	tags := append([]Tag(nil), r.Tags...)
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	for _, t := range tags {
		if t.Key == "" || t.Value == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(tagEscaper.Replace(t.Key))
		b.WriteByte('=')
		b.WriteString(tagEscaper.Replace(t.Value))
	}

	b.WriteByte(' ')
	for i, f := range r.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		v, err := formatFieldValue(f.Value)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Key, err)
		}
		b.WriteString(tagEscaper.Replace(f.Key))
		b.WriteByte('=')
		b.WriteString(v)
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(r.Time.Round(time.Second).Unix(), 10))
	return b.String(), nil
}

func formatFieldValue(v any) (string, error) {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case string:
		return `"` + stringEscaper.Replace(val) + `"`, nil
	default:
		return "", fmt.Errorf("unsupported field type %T", v)
	}
}

// FormatLines renders every record, failing on the first invalid one.
func FormatLines(records []Record) ([]string, error) {
	lines := make([]string, 0, len(records))
	for i, r := range records {
		line, err := FormatLine(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}
