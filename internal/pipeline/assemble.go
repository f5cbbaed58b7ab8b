package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/alitho/shipview/internal/shipment"
)

// Diagnostics summarizes what happened to the candidate set. Records that
// failed to load are listed here instead of failing the request.
type Diagnostics struct {
	Candidates       int      `json:"candidates"`
	Loaded           int      `json:"loaded"`
	DateFiltered     int      `json:"dateFiltered"`
	JobFiltered      int      `json:"jobFiltered"`
	CustomerFiltered int      `json:"customerFiltered"`
	FetchErrors      []string `json:"fetchErrors,omitempty"`
	ParseErrors      []string `json:"parseErrors,omitempty"`
	Recovered        []string `json:"recovered,omitempty"`
	StillCorrupted   []string `json:"stillCorrupted,omitempty"`
	EnrichmentMisses []Miss   `json:"enrichmentMisses,omitempty"`
	Prefiltered      bool     `json:"prefiltered"`
	Truncated        bool     `json:"truncated"`
}

// Page is one page of a search. Total and HasMore are estimates derived
// from the page alone; Approximate is always true. Cached only marks a page
// served from the result cache; everything else matches the stored page.
type Page struct {
	Items       []shipment.Record `json:"items"`
	Total       int               `json:"total"`
	Page        int               `json:"page"`
	PageSize    int               `json:"pageSize"`
	TotalPages  int               `json:"totalPages"`
	HasMore     bool              `json:"hasMore"`
	Approximate bool              `json:"approximate"`
	Cached      bool              `json:"cached"`
	Diagnostics Diagnostics       `json:"diagnostics"`
}

// SortByDate orders newest first. Records without a timestamp go last;
// ties break on id, descending.
func SortByDate(recs []shipment.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].DateTime, recs[j].DateTime
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return compareIDs(recs[i].ID, recs[j].ID) > 0
	})
}

// compareIDs compares numerically when both ids are integers.
func compareIDs(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// Paginate returns the 1-based page slice. Out-of-range pages are empty.
func Paginate(recs []shipment.Record, page, pageSize int) []shipment.Record {
	if page < 1 || pageSize < 1 {
		return []shipment.Record{}
	}
	start := (page - 1) * pageSize
	if start >= len(recs) {
		return []shipment.Record{}
	}
	end := min(start+pageSize, len(recs))
	return recs[start:end]
}

// BuildPage derives the approximate totals from the returned page:
// total = returned + (page-1)*pageSize, hasMore = returned == pageSize,
// totalPages = page, plus one when hasMore.
func BuildPage(items []shipment.Record, page, pageSize int, diag Diagnostics) Page {
	if items == nil {
		items = []shipment.Record{}
	}
	returned := len(items)
	hasMore := returned == pageSize
	totalPages := page
	if hasMore {
		totalPages++
	}
	return Page{
		Items:       items,
		Total:       returned + (page-1)*pageSize,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		HasMore:     hasMore,
		Approximate: true,
		Diagnostics: diag,
	}
}

// FilterJob keeps records whose job equals job. A composite "job:part"
// value must match the part as well.
func FilterJob(recs []shipment.Record, job string) []shipment.Record {
	job = strings.TrimSpace(job)
	if job == "" {
		return recs
	}
	var part string
	if j, p, ok := shipment.SplitPartKey(job); ok {
		job, part = j, p
	}
	out := recs[:0]
	for _, r := range recs {
		if r.Job == job && (part == "" || r.JobPart == part) {
			out = append(out, r)
		}
	}
	return out
}

// FilterCustomer keeps records whose customer label contains sub,
// case-insensitively. Records with no label are dropped.
func FilterCustomer(recs []shipment.Record, sub string) []shipment.Record {
	sub = strings.ToLower(strings.TrimSpace(sub))
	if sub == "" {
		return recs
	}
	out := recs[:0]
	for _, r := range recs {
		if strings.Contains(strings.ToLower(r.CustomerLabel()), sub) {
			out = append(out, r)
		}
	}
	return out
}

// Fingerprint identifies a normalized filter for caching. Page and page
// size are part of it since they select a different slice.
func Fingerprint(f shipment.Filter) string {
	canon := struct {
		StartDate string `json:"s"`
		EndDate   string `json:"e"`
		Job       string `json:"j"`
		Customer  string `json:"c"`
		Page      int    `json:"p"`
		PageSize  int    `json:"n"`
	}{f.StartDate, f.EndDate, f.Job, strings.ToLower(f.Customer), f.Page, f.PageSize}
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
