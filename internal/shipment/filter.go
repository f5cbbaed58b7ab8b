package shipment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Filter is the caller's search request. Dates are calendar days
// (YYYY-MM-DD) in the display time zone.
type Filter struct {
	StartDate string `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Job       string `json:"job,omitempty" validate:"omitempty,max=64"`
	Customer  string `json:"customer,omitempty" validate:"omitempty,max=128"`
	Page      int    `json:"page" validate:"gte=1"`
	PageSize  int    `json:"pageSize" validate:"gte=1,lte=500"`
}

var validate = validator.New()

// WithDefaults fills page 1 and the default page size when unset and trims
// whitespace from the text fields.
func (f Filter) WithDefaults() Filter {
	f.StartDate = strings.TrimSpace(f.StartDate)
	f.EndDate = strings.TrimSpace(f.EndDate)
	f.Job = strings.TrimSpace(f.Job)
	f.Customer = strings.TrimSpace(f.Customer)
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	return f
}

// HasDates reports whether either date bound is set.
func (f Filter) HasDates() bool {
	return f.StartDate != "" || f.EndDate != ""
}

// Validate returns a ValidationError describing every rejected field.
func (f Filter) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return &Error{Kind: KindValidationError, Message: strings.Join(msgs, "; "), Err: err}
		}
		return &Error{Kind: KindValidationError, Message: err.Error(), Err: err}
	}
	// ISO dates order lexically.
	if f.StartDate != "" && f.EndDate != "" && f.EndDate < f.StartDate {
		return Errorf(KindValidationError, "endDate %s is before startDate %s", f.EndDate, f.StartDate)
	}
	return nil
}
