package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"market-feed/internal/domain"
)

const (
	maxBodyBytes      = 1 << 20
	maxMultipartBytes = 10 << 20
)

var errUnsupportedMediaType = errors.New("unsupported content type")

// formValue accepts a JSON string, number, boolean or null and keeps its
// literal text, so "49.90" and 49.90 reach the validator unchanged.
type formValue string

func (v *formValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = formValue(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("expected a scalar, got %s", data[:1])
	default:
		*v = formValue(data)
	}
	return nil
}

type createListingRequest struct {
	Title              formValue      `json:"title"`
	Description        formValue      `json:"description"`
	Price              formValue      `json:"price"`
	Category           formValue      `json:"category"`
	ImageURL           formValue      `json:"imageUrl"`
	Material           formValue      `json:"material"`
	Weight             formValue      `json:"weight"`
	Dimensions         formValue      `json:"dimensions"`
	Condition          formValue      `json:"condition"`
	ShippingDimensions formValue      `json:"shippingDimensions"`
	ShippingWeight     formValue      `json:"shippingWeight"`
	IsCustom           formValue      `json:"isCustom"`
	Images             []domain.Media `json:"images"`
}

func (req createListingRequest) raw() domain.RawListing {
	return domain.RawListing{
		Title:              string(req.Title),
		Description:        string(req.Description),
		Price:              string(req.Price),
		Category:           string(req.Category),
		ImageURL:           string(req.ImageURL),
		Material:           string(req.Material),
		Weight:             string(req.Weight),
		Dimensions:         string(req.Dimensions),
		Condition:          string(req.Condition),
		ShippingDimensions: string(req.ShippingDimensions),
		ShippingWeight:     string(req.ShippingWeight),
		IsCustom:           string(req.IsCustom),
		Images:             req.Images,
	}
}

// decodeListing reads a submission from a JSON body or from form fields.
// A form may carry already-uploaded media as a JSON array in "images".
func decodeListing(w http.ResponseWriter, r *http.Request) (domain.RawListing, error) {
	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return domain.RawListing{}, errUnsupportedMediaType
		}
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		var req createListingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return domain.RawListing{}, fmt.Errorf("decode json body: %w", err)
		}
		return req.raw(), nil

	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return domain.RawListing{}, fmt.Errorf("parse form: %w", err)
		}
		return formListing(r)

	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
		if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
			return domain.RawListing{}, fmt.Errorf("parse multipart form: %w", err)
		}
		return formListing(r)

	default:
		return domain.RawListing{}, errUnsupportedMediaType
	}
}

func formListing(r *http.Request) (domain.RawListing, error) {
	raw := domain.RawListing{
		Title:              r.FormValue("title"),
		Description:        r.FormValue("description"),
		Price:              r.FormValue("price"),
		Category:           r.FormValue("category"),
		ImageURL:           r.FormValue("imageUrl"),
		Material:           r.FormValue("material"),
		Weight:             r.FormValue("weight"),
		Dimensions:         r.FormValue("dimensions"),
		Condition:          r.FormValue("condition"),
		ShippingDimensions: r.FormValue("shippingDimensions"),
		ShippingWeight:     r.FormValue("shippingWeight"),
		IsCustom:           r.FormValue("isCustom"),
	}

	if images := strings.TrimSpace(r.FormValue("images")); images != "" {
		if err := json.Unmarshal([]byte(images), &raw.Images); err != nil {
			return domain.RawListing{}, fmt.Errorf("decode images field: %w", err)
		}
	}
	return raw, nil
}
