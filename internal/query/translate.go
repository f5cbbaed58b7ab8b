// Package query compiles shipment filters into the ERP's attribute query
// language. The language only understands `=`, `!=` and `and`; anything it
// cannot express is deferred to the caller.
package query

import (
	"strings"

	"github.com/alitho/shipview/internal/shipment"
)

// Attributes of the Shipment object used in queries.
const (
	AttrID   = "id"
	AttrJob  = "job"
	AttrShip = "dateShipped"
)

// FallbackQuery selects every shipment. The ERP rejects an empty query.
const FallbackQuery = AttrID + " > 0"

// Options tunes translation.
type Options struct {
	// ShippedPrefilter emits `dateShipped != ""` when a date bound is given.
	// The attribute has inverted semantics upstream: equality returns
	// unshipped records and inequality returns shipped ones. It only narrows
	// the candidate set; dates are still filtered after fetch.
	ShippedPrefilter bool
}

// Translation is a compiled filter.
type Translation struct {
	Query         string
	DeferDates    bool
	DeferCustomer bool
	Prefiltered   bool
}

// Translate compiles f. Date and customer criteria are never compiled into a
// comparison; the returned flags tell the caller to apply them itself.
func Translate(f shipment.Filter, opts Options) Translation {
	var clauses []string
	var t Translation

	if f.Job != "" {
		clauses = append(clauses, Eq(AttrJob, f.Job))
	}
	if f.HasDates() {
		t.DeferDates = true
		if opts.ShippedPrefilter {
			clauses = append(clauses, Ne(AttrShip, ""))
			t.Prefiltered = true
		}
	}
	if f.Customer != "" {
		t.DeferCustomer = true
	}

	if len(clauses) == 0 {
		t.Query = FallbackQuery
		return t
	}
	t.Query = And(clauses...)
	return t
}

// Eq renders attr = "value".
func Eq(attr, value string) string {
	return attr + " = " + Quote(value)
}

// Ne renders attr != "value".
func Ne(attr, value string) string {
	return attr + " != " + Quote(value)
}

// And joins clauses.
func And(clauses ...string) string {
	return strings.Join(clauses, " and ")
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Quote wraps v in double quotes, escaping backslashes and quotes.
func Quote(v string) string {
	return `"` + quoter.Replace(v) + `"`
}
