package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/query"
	"github.com/alitho/shipview/internal/shipment"
)

// CartonResult is the carton tree of one shipment.
type CartonResult struct {
	Shipment string            `json:"shipment"`
	Cartons  []shipment.Carton `json:"cartons"`
	Misses   []Miss            `json:"misses,omitempty"`
}

// GetCartons loads the cartons of a shipment with their content lines, each
// line annotated with its subject's description.
func (s *Service) GetCartons(ctx context.Context, shipmentID string) (CartonResult, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return CartonResult{}, shipment.Errorf(shipment.KindValidationError, "shipment id is required")
	}
	out := CartonResult{Shipment: shipmentID, Cartons: []shipment.Carton{}}

	cartonIDs, err := s.finder.Find(ctx, erp.TypeCarton, query.Eq("shipment", shipmentID), 0, 0)
	if err != nil {
		return CartonResult{}, err
	}
	if len(cartonIDs) == 0 {
		return out, nil
	}

	cartons, misses := readObjects(ctx, s.up, s.fetcher.batchSize, erp.TypeCarton, cartonIDs, normalizeCarton)
	out.Misses = append(out.Misses, misses...)

	// Content ids per carton, then one batched read across all of them.
	contentIDs := make([][]string, len(cartons))
	var g errgroup.Group
	g.SetLimit(s.fetcher.batchSize)
	for i, c := range cartons {
		g.Go(func() error {
			ids, err := s.finder.Find(ctx, erp.TypeCartonContent, query.Eq("carton", c.ID), 0, 0)
			if err != nil {
				return err
			}
			contentIDs[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CartonResult{}, err
	}

	var all []string
	for _, ids := range contentIDs {
		all = append(all, ids...)
	}
	contents, misses := readObjects(ctx, s.up, s.fetcher.batchSize, erp.TypeCartonContent, all, normalizeContent)
	out.Misses = append(out.Misses, misses...)
	out.Misses = append(out.Misses, s.resolver.EnrichContents(ctx, contents)...)

	byID := make(map[string]shipment.Content, len(contents))
	for _, c := range contents {
		byID[c.ID] = c
	}
	for i := range cartons {
		for _, id := range contentIDs[i] {
			if c, ok := byID[id]; ok {
				cartons[i].Contents = append(cartons[i].Contents, c)
			}
		}
	}
	out.Cartons = cartons
	slog.Debug("pipeline: cartons loaded", "shipment", shipmentID, "cartons", len(cartons), "contents", len(contents))
	return out, nil
}

// readObjects reads ids of objType with the fetcher's concurrency bound,
// retrying a corrupted read once. Output keeps id order; failures are
// reported as misses.
func readObjects[T any](ctx context.Context, up Upstream, limit int, objType string, ids []string, norm func(string, []byte) (T, error)) ([]T, []Miss) {
	ids = dedupe(ids)
	vals := make([]*T, len(ids))
	var (
		mu     sync.Mutex
		misses []Miss
		g      errgroup.Group
	)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			v, err := readObject(ctx, up, objType, id, norm)
			if err != nil {
				mu.Lock()
				misses = append(misses, Miss{ObjectType: objType, ID: id, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			vals[i] = &v
			return nil
		})
	}
	_ = g.Wait()

	out := make([]T, 0, len(ids))
	for _, v := range vals {
		if v != nil {
			out = append(out, *v)
		}
	}
	for _, m := range misses {
		slog.Warn("pipeline: object read failed", "type", m.ObjectType, "id", m.ID, "error", m.Error)
	}
	return out, misses
}

func readObject[T any](ctx context.Context, up Upstream, objType, id string, norm func(string, []byte) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		body, err := up.Read(ctx, objType, id)
		if err != nil {
			res := readFailure(id, err)
			if res.Outcome == OutcomeCorrupted {
				lastErr = res.Err
				continue
			}
			if lastErr != nil {
				return zero, &shipment.Error{Kind: shipment.KindRecordCorrupted, Message: objType + " " + id + ": retry failed", Err: res.Err}
			}
			return zero, res.Err
		}
		v, err := norm(id, body)
		if err != nil {
			if IsCorruption(string(body)) {
				lastErr = err
				continue
			}
			if lastErr != nil {
				return zero, &shipment.Error{Kind: shipment.KindRecordCorrupted, Message: objType + " " + id + ": retry failed", Body: string(body), Err: err}
			}
			return zero, &shipment.Error{Kind: shipment.KindJSONParseError, Message: objType + " " + id, Err: err}
		}
		return v, nil
	}
	return zero, lastErr
}
