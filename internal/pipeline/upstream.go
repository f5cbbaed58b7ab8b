package pipeline

import (
	"context"
	"errors"

	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/shipment"
)

// Upstream is the slice of the ERP object API the read pipeline uses.
// Implemented by erp.Client.
type Upstream interface {
	Find(ctx context.Context, objType, query string, offset, limit int, sort []string) ([]string, error)
	Read(ctx context.Context, objType, id string) ([]byte, error)
}

// queryError maps an identifier-discovery failure to the fatal error kinds.
func queryError(op string, err error) error {
	if errors.Is(err, erp.ErrCredentialsMissing) {
		return &shipment.Error{
			Kind:    shipment.KindUpstreamCredentialsMissing,
			Message: "ERP credentials are not configured",
			Err:     err,
		}
	}
	var se *erp.StatusError
	if errors.As(err, &se) {
		return &shipment.Error{
			Kind:    shipment.KindUpstreamQueryFailed,
			Message: op + " failed",
			Status:  se.Status,
			Body:    se.Body,
			Err:     err,
		}
	}
	return &shipment.Error{Kind: shipment.KindUpstreamQueryFailed, Message: op + ": " + err.Error(), Err: err}
}
