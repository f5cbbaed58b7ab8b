package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alitho/shipview/internal/shipment"
)

// envelope is the loosely typed upstream object. Field types vary between
// records (description may be a string or a list of lines, ids may be
// numbers or strings, references may be nested objects), so everything is
// coerced here and nothing past this file sees the raw shape.
type envelope map[string]any

var errEmptyObject = errors.New("empty object")

func decodeEnvelope(body []byte) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errEmptyObject
	}
	return env, nil
}

// scalar renders a single value as a string. Nested references render as
// their id.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return scalar(t["id"])
	default:
		return fmt.Sprint(t)
	}
}

// str returns the first non-empty value among keys.
func (e envelope) str(keys ...string) string {
	for _, k := range keys {
		if s := scalar(e[k]); s != "" {
			return s
		}
	}
	return ""
}

// text is str for free text: a list of lines is joined with newlines.
func (e envelope) text(key string) string {
	lines, ok := e[key].([]any)
	if !ok {
		return e.str(key)
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if s, ok := l.(string); ok {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, scalar(l))
	}
	return strings.Join(parts, "\n")
}

func (e envelope) num(keys ...string) *float64 {
	for _, k := range keys {
		var f float64
		var err error
		switch t := e[k].(type) {
		case json.Number:
			f, err = t.Float64()
		case float64:
			f = t
		case string:
			if strings.TrimSpace(t) == "" {
				continue
			}
			f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
		default:
			continue
		}
		if err == nil {
			return &f
		}
	}
	return nil
}

// dateKeys is the fallback order for the shipment timestamp.
var dateKeys = []string{"dateTime", "date", "shipDate"}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts RFC3339-style strings, zone-less timestamps (read in
// loc) and epoch milliseconds.
func parseTime(v any, loc *time.Location) (time.Time, bool) {
	switch t := v.(type) {
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).In(loc), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range zonedLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		for _, layout := range localLayouts {
			if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// date returns the first parseable timestamp in dateKeys order.
func (e envelope) date(loc *time.Location) *time.Time {
	for _, k := range dateKeys {
		if ts, ok := parseTime(e[k], loc); ok {
			return &ts
		}
	}
	return nil
}

// jobAndPart reads the job reference, splitting composite "job:part" keys
// that arrive in either the job or the jobPart field.
func (e envelope) jobAndPart() (job, part string) {
	job = e.str("job")
	part = e.str("jobPart")
	if j, p, ok := shipment.SplitPartKey(job); ok {
		job = j
		if part == "" {
			part = p
		}
	}
	if j, p, ok := shipment.SplitPartKey(part); ok {
		if job == "" {
			job = j
		}
		part = p
	}
	return job, part
}

func normalizeShipment(id string, body []byte, loc *time.Location) (shipment.Record, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return shipment.Record{}, err
	}
	rec := shipment.Record{
		ID:             env.str("id"),
		ShipVia:        env.str("shipVia"),
		ShipmentType:   env.str("shipmentType"),
		DateTime:       env.date(loc),
		Description:    env.text("description"),
		Name:           env.str("name"),
		Address1:       env.str("address1", "address"),
		Address2:       env.str("address2"),
		City:           env.str("city"),
		State:          env.str("state"),
		Zip:            env.str("zip", "postalCode"),
		Country:        env.str("country"),
		Contact:        env.str("contact", "attention"),
		Phone:          env.str("phone"),
		Email:          env.str("email"),
		TrackingNumber: env.str("trackingNumber"),
		Cost:           env.num("cost"),
		Charge:         env.num("charge"),
		Weight:         env.num("weight"),
	}
	rec.Job, rec.JobPart = env.jobAndPart()
	if rec.ID == "" {
		rec.ID = id
	}
	rec.Raw = env.unmapped(shipmentKeys)
	return rec, nil
}

var shipmentKeys = map[string]bool{
	"id": true, "job": true, "jobPart": true, "shipVia": true, "shipmentType": true,
	"dateTime": true, "date": true, "shipDate": true, "description": true, "name": true,
	"address1": true, "address": true, "address2": true, "city": true, "state": true,
	"zip": true, "postalCode": true, "country": true, "contact": true, "attention": true,
	"phone": true, "email": true, "trackingNumber": true, "cost": true, "charge": true,
	"weight": true,
}

// unmapped returns the non-null fields not in known, or nil.
func (e envelope) unmapped(known map[string]bool) map[string]any {
	var out map[string]any
	for k, v := range e {
		if known[k] || v == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

func normalizeLookup(id string, body []byte) (shipment.Lookup, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return shipment.Lookup{}, err
	}
	l := shipment.Lookup{
		ID:          env.str("id"),
		Description: env.text("description"),
		Name:        env.str("name"),
		Fields:      map[string]any(env),
	}
	if l.ID == "" {
		l.ID = id
	}
	return l, nil
}

// field reads a reference out of a lookup's raw fields.
func field(l shipment.Lookup, keys ...string) string {
	return envelope(l.Fields).str(keys...)
}

func normalizeCarton(id string, body []byte) (shipment.Carton, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return shipment.Carton{}, err
	}
	c := shipment.Carton{
		ID:             env.str("id"),
		Shipment:       env.str("shipment"),
		Number:         env.str("number", "cartonNumber"),
		TrackingNumber: env.str("trackingNumber"),
		Weight:         env.num("weight"),
		Contents:       []shipment.Content{},
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, nil
}

func normalizeContent(id string, body []byte) (shipment.Content, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return shipment.Content{}, err
	}
	c := shipment.Content{
		ID:           env.str("id"),
		Carton:       env.str("carton"),
		JobComponent: env.str("jobComponent"),
		JobProduct:   env.str("jobProduct"),
		Quantity:     env.num("quantity", "qty"),
	}
	c.Job, c.JobPart = env.jobAndPart()
	if c.ID == "" {
		c.ID = id
	}
	return c, nil
}
