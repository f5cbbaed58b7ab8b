package query

import (
	"strings"
	"testing"

	"github.com/alitho/shipview/internal/shipment"
)

func TestTranslate(t *testing.T) {
	on := Options{ShippedPrefilter: true}
	off := Options{}

	tests := []struct {
		name          string
		f             shipment.Filter
		opts          Options
		wantQuery     string
		deferDates    bool
		deferCustomer bool
	}{
		{
			name:      "no filter falls back to all ids",
			f:         shipment.Filter{},
			opts:      on,
			wantQuery: "id > 0",
		},
		{
			name:      "job",
			f:         shipment.Filter{Job: "112823"},
			opts:      on,
			wantQuery: `job = "112823"`,
		},
		{
			name:       "dates with prefilter",
			f:          shipment.Filter{StartDate: "2024-03-01"},
			opts:       on,
			wantQuery:  `dateShipped != ""`,
			deferDates: true,
		},
		{
			name:       "dates without prefilter",
			f:          shipment.Filter{EndDate: "2024-03-01"},
			opts:       off,
			wantQuery:  "id > 0",
			deferDates: true,
		},
		{
			name:       "job and dates",
			f:          shipment.Filter{Job: "112823", StartDate: "2024-03-01", EndDate: "2024-03-02"},
			opts:       on,
			wantQuery:  `job = "112823" and dateShipped != ""`,
			deferDates: true,
		},
		{
			name:          "customer is never compiled",
			f:             shipment.Filter{Customer: "acme"},
			opts:          on,
			wantQuery:     "id > 0",
			deferCustomer: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.f, tt.opts)
			if got.Query != tt.wantQuery {
				t.Errorf("Query = %q, want %q", got.Query, tt.wantQuery)
			}
			if got.DeferDates != tt.deferDates {
				t.Errorf("DeferDates = %v, want %v", got.DeferDates, tt.deferDates)
			}
			if got.DeferCustomer != tt.deferCustomer {
				t.Errorf("DeferCustomer = %v, want %v", got.DeferCustomer, tt.deferCustomer)
			}
			if strings.Contains(strings.ToLower(got.Query), "acme") {
				t.Errorf("customer leaked into query: %q", got.Query)
			}
		})
	}
}

func TestTranslate_NeverComparesTimestamps(t *testing.T) {
	got := Translate(shipment.Filter{StartDate: "2024-03-01", EndDate: "2024-03-31"}, Options{ShippedPrefilter: true})
	for _, op := range []string{"<", ">", "like", "startswith", "2024"} {
		if strings.Contains(got.Query, op) {
			t.Errorf("query %q contains %q", got.Query, op)
		}
	}
	if !got.Prefiltered {
		t.Error("Prefiltered = false, want true")
	}
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"112823":  `"112823"`,
		`a"b`:     `"a\"b"`,
		`back\sl`: `"back\\sl"`,
		"":        `""`,
	}
	for in, want := range tests {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %s, want %s", in, got, want)
		}
	}
}
