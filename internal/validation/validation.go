// Package validation turns raw listing submissions into normalized
// candidates or a rejection with a human-readable reason.
package validation

import (
	"fmt"
	"sort"
	"strings"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"

	"market-feed/internal/domain"
)

// PricePolicy selects whether a zero price is acceptable.
type PricePolicy string

const (
	PriceNonNegative PricePolicy = "non_negative"
	PricePositive    PricePolicy = "positive"
)

const (
	DefaultMaxTitleLength       = 120
	DefaultMaxDescriptionLength = 2000
)

// DefaultMaxPrice is the largest accepted amount, 99999999.99.
var DefaultMaxPrice = domain.Price(9_999_999_999)

const (
	maxPriceExponent = 10
	minPriceExponent = -1000
)

// RejectionError describes why a submission was refused. It is a client
// error: the submission is neither persisted nor retried.
type RejectionError struct {
	Reason string
	Fields []string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func reject(reason string, fields ...string) *RejectionError {
	return &RejectionError{Reason: reason, Fields: fields}
}

type Validator struct {
	policy               PricePolicy
	requireCategory      bool
	maxTitleLength       int
	maxDescriptionLength int
	maxPrice             domain.Price
}

type Option func(*Validator)

func WithPricePolicy(p PricePolicy) Option {
	return func(v *Validator) {
		if p == PricePositive || p == PriceNonNegative {
			v.policy = p
		}
	}
}

func WithRequiredCategory(required bool) Option {
	return func(v *Validator) {
		v.requireCategory = required
	}
}

func WithMaxLengths(title, description int) Option {
	return func(v *Validator) {
		if title > 0 {
			v.maxTitleLength = title
		}
		if description > 0 {
			v.maxDescriptionLength = description
		}
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{
		policy:               PriceNonNegative,
		maxTitleLength:       DefaultMaxTitleLength,
		maxDescriptionLength: DefaultMaxDescriptionLength,
		maxPrice:             DefaultMaxPrice,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Normalize validates raw and returns the canonical candidate. Any failure is
// returned as a *RejectionError; Normalize never panics on malformed input.
func (v *Validator) Normalize(raw domain.RawListing) (domain.Candidate, error) {
	title := strings.TrimSpace(raw.Title)
	description := strings.TrimSpace(raw.Description)
	price := strings.TrimSpace(raw.Price)
	category := strings.TrimSpace(raw.Category)

	var missing []string
	if title == "" {
		missing = append(missing, "title")
	}
	if description == "" {
		missing = append(missing, "description")
	}
	if price == "" {
		missing = append(missing, "price")
	}
	if v.requireCategory && category == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return domain.Candidate{}, reject("missing required fields: "+strings.Join(missing, ", "), missing...)
	}

	imageURL := strings.TrimSpace(raw.ImageURL)

	fieldErrs := ozzo.Errors{
		"title":       ozzo.Validate(title, ozzo.RuneLength(1, v.maxTitleLength)),
		"description": ozzo.Validate(description, ozzo.RuneLength(1, v.maxDescriptionLength)),
		"imageUrl":    ozzo.Validate(imageURL, is.URL),
	}
	for i, m := range raw.Images {
		fieldErrs[fmt.Sprintf("images[%d].url", i)] = ozzo.Validate(strings.TrimSpace(m.URL), ozzo.Required)
	}
	if err := fieldErrs.Filter(); err != nil {
		errs, _ := err.(ozzo.Errors)
		fields := make([]string, 0, len(errs))
		for name := range errs {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		return domain.Candidate{}, reject(err.Error(), fields...)
	}

	normalized, rejection := v.normalizePrice(price)
	if rejection != nil {
		return domain.Candidate{}, rejection
	}

	images := make([]domain.Media, 0, len(raw.Images))
	for _, m := range raw.Images {
		m.URL = strings.TrimSpace(m.URL)
		images = append(images, m)
	}

	return domain.Candidate{
		Title:       title,
		Description: description,
		Price:       normalized,
		Category:    optional(category),
		ImageURL:    optional(imageURL),
		Images:      images,
		Attributes: domain.Attributes{
			Material:           optional(raw.Material),
			Weight:             optional(raw.Weight),
			Dimensions:         optional(raw.Dimensions),
			Condition:          optional(raw.Condition),
			ShippingDimensions: optional(raw.ShippingDimensions),
			ShippingWeight:     optional(raw.ShippingWeight),
			IsCustom:           truthy(raw.IsCustom),
		},
	}, nil
}

func (v *Validator) normalizePrice(s string) (domain.Price, *RejectionError) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, reject("price must be a number", "price")
	}
	if d.IsNegative() {
		return 0, reject("price must be a non-negative number", "price")
	}
	if d.IsZero() {
		d = decimal.Zero
	}
	if d.Exponent() < minPriceExponent {
		return 0, reject("price has too many decimal places", "price")
	}
	// Any non-zero value with an exponent past maxPriceExponent is out of range.
	if d.Exponent() > maxPriceExponent || d.Round(2).GreaterThan(v.maxPrice.Decimal()) {
		return 0, reject("price must not exceed "+v.maxPrice.String(), "price")
	}

	p := domain.PriceFromDecimal(d)
	if v.policy == PricePositive && p <= 0 {
		return 0, reject("price must be greater than zero", "price")
	}
	return p, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on":
		return true
	default:
		return false
	}
}
