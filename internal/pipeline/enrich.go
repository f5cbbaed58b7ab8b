package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/metrics"
	"github.com/alitho/shipview/internal/shipment"
)

// Miss is a reference that could not be resolved. The owning records keep
// the enrichment field unset.
type Miss struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"id"`
	Error      string `json:"error"`
}

// Resolver fills the reference fields of shipments and carton contents.
// Each hop reads every distinct id once, concurrently.
type Resolver struct {
	up      Upstream
	metrics *metrics.Registry
}

func NewResolver(up Upstream, m *metrics.Registry) *Resolver {
	return &Resolver{up: up, metrics: m}
}

// lookupAll reads each distinct id of objType once. Failures become misses.
func (r *Resolver) lookupAll(ctx context.Context, objType string, ids []string) (map[string]shipment.Lookup, []Miss) {
	ids = dedupe(ids)
	var (
		mu     sync.Mutex
		found  = make(map[string]shipment.Lookup, len(ids))
		misses []Miss
	)
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			l, err := r.lookup(ctx, objType, id)
			r.metrics.Lookup(objType, err == nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				misses = append(misses, Miss{ObjectType: objType, ID: id, Error: err.Error()})
				return nil
			}
			found[id] = l
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(misses, func(i, j int) bool { return misses[i].ID < misses[j].ID })
	for _, m := range misses {
		slog.Warn("pipeline: enrichment lookup failed", "type", m.ObjectType, "id", m.ID, "error", m.Error)
	}
	return found, misses
}

func (r *Resolver) lookup(ctx context.Context, objType, id string) (shipment.Lookup, error) {
	body, err := r.up.Read(ctx, objType, id)
	if err != nil {
		return shipment.Lookup{}, &shipment.Error{Kind: shipment.KindEnrichmentLookupFailed, Message: objType + " " + id, Err: err}
	}
	l, err := normalizeLookup(id, body)
	if err != nil {
		return shipment.Lookup{}, &shipment.Error{Kind: shipment.KindJSONParseError, Message: objType + " " + id, Err: err}
	}
	return l, nil
}

// Enrich resolves job -> customer -> customer name and ship-via ->
// provider -> provider name for recs, in place. The two chains are
// independent and run concurrently; results are applied afterwards.
func (r *Resolver) Enrich(ctx context.Context, recs []shipment.Record) []Miss {
	if len(recs) == 0 {
		return nil
	}
	jobs := make([]string, 0, len(recs))
	vias := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.Job != "" {
			jobs = append(jobs, rec.Job)
		}
		if rec.ShipVia != "" {
			vias = append(vias, rec.ShipVia)
		}
	}

	var (
		cust    customerChain
		via     shipViaChain
		g       errgroup.Group
		missMu  sync.Mutex
		allMiss []Miss
	)
	addMisses := func(m []Miss) {
		missMu.Lock()
		allMiss = append(allMiss, m...)
		missMu.Unlock()
	}
	g.Go(func() error {
		cust = r.resolveCustomers(ctx, jobs, addMisses)
		return nil
	})
	g.Go(func() error {
		via = r.resolveShipVias(ctx, vias, addMisses)
		return nil
	})
	_ = g.Wait()

	for i := range recs {
		rec := &recs[i]
		if c, ok := cust.customerOf[rec.Job]; ok {
			rec.Customer = ptr(c)
			if name, ok := cust.nameOf[c]; ok {
				rec.CustomerName = ptr(name)
			}
		}
		if d, ok := via.descriptionOf[rec.ShipVia]; ok {
			rec.ShipViaDescription = ptr(d)
		}
		if p, ok := via.providerOf[rec.ShipVia]; ok {
			if name, ok := via.providerName[p]; ok {
				rec.ShipViaProvider = ptr(name)
			}
		}
	}
	return allMiss
}

type customerChain struct {
	customerOf map[string]string // job -> customer id
	nameOf     map[string]string // customer id -> display name
}

func (r *Resolver) resolveCustomers(ctx context.Context, jobs []string, addMisses func([]Miss)) customerChain {
	ch := customerChain{customerOf: map[string]string{}, nameOf: map[string]string{}}
	if len(jobs) == 0 {
		return ch
	}
	jobLookups, misses := r.lookupAll(ctx, erp.TypeJob, jobs)
	addMisses(misses)

	customers := make([]string, 0, len(jobLookups))
	for job, l := range jobLookups {
		if c := field(l, "customer"); c != "" {
			ch.customerOf[job] = c
			customers = append(customers, c)
		}
	}
	if len(customers) == 0 {
		return ch
	}
	custLookups, misses := r.lookupAll(ctx, erp.TypeCustomer, customers)
	addMisses(misses)
	for id, l := range custLookups {
		if name := l.Label(); name != "" {
			ch.nameOf[id] = name
		}
	}
	return ch
}

type shipViaChain struct {
	descriptionOf map[string]string // ship-via -> description
	providerOf    map[string]string // ship-via -> provider id
	providerName  map[string]string // provider id -> name
}

func (r *Resolver) resolveShipVias(ctx context.Context, vias []string, addMisses func([]Miss)) shipViaChain {
	ch := shipViaChain{descriptionOf: map[string]string{}, providerOf: map[string]string{}, providerName: map[string]string{}}
	if len(vias) == 0 {
		return ch
	}
	viaLookups, misses := r.lookupAll(ctx, erp.TypeShipVia, vias)
	addMisses(misses)

	providers := make([]string, 0, len(viaLookups))
	for id, l := range viaLookups {
		if d := l.Description; d != "" {
			ch.descriptionOf[id] = d
		} else if n := l.Name; n != "" {
			ch.descriptionOf[id] = n
		}
		if p := field(l, "shipProvider", "provider"); p != "" {
			ch.providerOf[id] = p
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return ch
	}
	provLookups, misses := r.lookupAll(ctx, erp.TypeShipProvider, providers)
	addMisses(misses)
	for id, l := range provLookups {
		if name := l.Label(); name != "" {
			ch.providerName[id] = name
		}
	}
	return ch
}

// subjectTypes maps a content subject to the ERP object holding its
// description.
var subjectTypes = map[shipment.SubjectKind]string{
	shipment.SubjectJob:          erp.TypeJob,
	shipment.SubjectJobComponent: erp.TypeJobComponent,
	shipment.SubjectJobProduct:   erp.TypeJobProduct,
	shipment.SubjectJobPart:      erp.TypeJobPart,
}

// EnrichContents sets SubjectDescription on each content line. Lines whose
// subject reference is invalid are left untouched and reported as misses.
func (r *Resolver) EnrichContents(ctx context.Context, contents []shipment.Content) []Miss {
	keys := map[shipment.SubjectKind][]string{}
	var invalid []Miss
	for _, c := range contents {
		kind, key, err := c.Subject()
		if err != nil {
			invalid = append(invalid, Miss{ObjectType: erp.TypeCartonContent, ID: c.ID, Error: err.Error()})
			continue
		}
		keys[kind] = append(keys[kind], key)
	}

	var (
		mu       sync.Mutex
		resolved = map[shipment.SubjectKind]map[string]shipment.Lookup{}
		misses   []Miss
		g        errgroup.Group
	)
	for kind, ids := range keys {
		g.Go(func() error {
			found, m := r.lookupAll(ctx, subjectTypes[kind], ids)
			mu.Lock()
			resolved[kind] = found
			misses = append(misses, m...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i := range contents {
		kind, key, err := contents[i].Subject()
		if err != nil {
			continue
		}
		if l, ok := resolved[kind][key]; ok {
			if d := l.Description; d != "" {
				contents[i].SubjectDescription = ptr(d)
			} else if n := l.Name; n != "" {
				contents[i].SubjectDescription = ptr(n)
			}
		}
	}
	return append(invalid, misses...)
}

func ptr[T any](v T) *T { return &v }
