package shipment

import (
	"fmt"
	"strings"
	"time"
)

// Record is one shipment as read from the ERP, normalized at the fetch
// boundary. The enrichment fields stay nil until the resolver has run.
type Record struct {
	ID           string     `json:"id"`
	Job          string     `json:"job,omitempty"`
	JobPart      string     `json:"jobPart,omitempty"`
	ShipVia      string     `json:"shipVia,omitempty"`
	ShipmentType string     `json:"shipmentType,omitempty"`
	DateTime     *time.Time `json:"dateTime"`
	Description  string     `json:"description,omitempty"`

	Name     string `json:"name,omitempty"`
	Address1 string `json:"address1,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Zip      string `json:"zip,omitempty"`
	Country  string `json:"country,omitempty"`
	Contact  string `json:"contact,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`

	TrackingNumber string   `json:"trackingNumber,omitempty"`
	Cost           *float64 `json:"cost,omitempty"`
	Charge         *float64 `json:"charge,omitempty"`
	Weight         *float64 `json:"weight,omitempty"`

	Customer           *string `json:"customer,omitempty"`
	CustomerName       *string `json:"customerName,omitempty"`
	ShipViaDescription *string `json:"shipViaDescription,omitempty"`
	ShipViaProvider    *string `json:"shipViaProvider,omitempty"`

	// Raw holds upstream fields the normalizer does not map.
	Raw map[string]any `json:"raw,omitempty"`
}

// CustomerLabel returns the display name when resolved, falling back to the
// customer id. Empty when neither is known.
func (r Record) CustomerLabel() string {
	if r.CustomerName != nil && *r.CustomerName != "" {
		return *r.CustomerName
	}
	if r.Customer != nil {
		return *r.Customer
	}
	return ""
}

// Lookup is a resolved reference (job, customer, ship-via, provider...).
type Lookup struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Name        string         `json:"name,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Label prefers Name, then Description.
func (l Lookup) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Description
}

// Carton is a child of a shipment.
type Carton struct {
	ID             string    `json:"id"`
	Shipment       string    `json:"shipment"`
	Number         string    `json:"number,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	Weight         *float64  `json:"weight,omitempty"`
	Contents       []Content `json:"contents"`
}

// SubjectKind names what a carton content line refers to.
type SubjectKind string

const (
	SubjectJob          SubjectKind = "job"
	SubjectJobComponent SubjectKind = "jobComponent"
	SubjectJobProduct   SubjectKind = "jobProduct"
	SubjectJobPart      SubjectKind = "jobPart"
)

// Content is one line inside a carton. Exactly one of JobComponent,
// JobProduct or JobPart is set, or none of them and Job alone is the subject.
// JobPart always travels with Job because the ERP keys parts by (job, part).
type Content struct {
	ID           string   `json:"id"`
	Carton       string   `json:"carton"`
	Job          string   `json:"job,omitempty"`
	JobComponent string   `json:"jobComponent,omitempty"`
	JobProduct   string   `json:"jobProduct,omitempty"`
	JobPart      string   `json:"jobPart,omitempty"`
	Quantity     *float64 `json:"quantity,omitempty"`

	SubjectDescription *string `json:"subjectDescription,omitempty"`
}

// Subject returns the kind and lookup key of the line's subject. For parts
// the key is the ERP composite "job:part".
func (c Content) Subject() (SubjectKind, string, error) {
	set := 0
	var kind SubjectKind
	var key string
	if c.JobComponent != "" {
		set++
		kind, key = SubjectJobComponent, c.JobComponent
	}
	if c.JobProduct != "" {
		set++
		kind, key = SubjectJobProduct, c.JobProduct
	}
	if c.JobPart != "" {
		set++
		kind, key = SubjectJobPart, PartKey(c.Job, c.JobPart)
		if c.Job == "" {
			return "", "", fmt.Errorf("content %s: jobPart %q without job", c.ID, c.JobPart)
		}
	}
	switch set {
	case 0:
		if c.Job == "" {
			return "", "", fmt.Errorf("content %s: no subject reference", c.ID)
		}
		return SubjectJob, c.Job, nil
	case 1:
		return kind, key, nil
	default:
		return "", "", fmt.Errorf("content %s: %d subject references set, want exactly one", c.ID, set)
	}
}

// PartKey builds the ERP composite key for a job part.
func PartKey(job, part string) string {
	return job + ":" + part
}

// SplitPartKey splits "112823:02" into ("112823", "02"). ok is false when key
// carries no separator or either side is empty.
func SplitPartKey(key string) (job, part string, ok bool) {
	job, part, found := strings.Cut(key, ":")
	if !found || job == "" || part == "" {
		return "", "", false
	}
	return job, part, true
}
