package domain

import "time"

type Listing struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Price       Price      `json:"price"`
	Category    *string    `json:"category"`
	ImageURL    *string    `json:"imageUrl"`
	Images      []Media    `json:"images"`
	Attributes  Attributes `json:"attributes"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Media is a reference produced by the upload collaborator. Its fields are
// carried as-is.
type Media struct {
	URL          string `json:"url"`
	Filename     string `json:"filename,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// Attributes holds the optional descriptive fields of a listing. Absent
// values are nil and serialize as null.
type Attributes struct {
	Material           *string `json:"material"`
	Weight             *string `json:"weight"`
	Dimensions         *string `json:"dimensions"`
	Condition          *string `json:"condition"`
	ShippingDimensions *string `json:"shippingDimensions"`
	ShippingWeight     *string `json:"shippingWeight"`
	IsCustom           bool    `json:"isCustom"`
}

// Candidate is a validated listing that has not been committed yet.
type Candidate struct {
	Title       string
	Description string
	Price       Price
	Category    *string
	ImageURL    *string
	Images      []Media
	Attributes  Attributes
}

// Commit stamps the candidate with its identity and commit time.
func (c Candidate) Commit(id string, createdAt time.Time) *Listing {
	images := make([]Media, len(c.Images))
	copy(images, c.Images)

	return &Listing{
		ID:          id,
		Title:       c.Title,
		Description: c.Description,
		Price:       c.Price,
		Category:    c.Category,
		ImageURL:    c.ImageURL,
		Images:      images,
		Attributes:  c.Attributes,
		CreatedAt:   createdAt,
	}
}

// Clone returns a deep copy so stores can hand out listings without sharing
// their internal state.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	out := *l
	out.Images = make([]Media, len(l.Images))
	copy(out.Images, l.Images)
	out.Category = cloneString(l.Category)
	out.ImageURL = cloneString(l.ImageURL)
	out.Attributes.Material = cloneString(l.Attributes.Material)
	out.Attributes.Weight = cloneString(l.Attributes.Weight)
	out.Attributes.Dimensions = cloneString(l.Attributes.Dimensions)
	out.Attributes.Condition = cloneString(l.Attributes.Condition)
	out.Attributes.ShippingDimensions = cloneString(l.Attributes.ShippingDimensions)
	out.Attributes.ShippingWeight = cloneString(l.Attributes.ShippingWeight)
	return &out
}

// RawListing is a submission as received from the request layer, before any
// trimming or parsing.
type RawListing struct {
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	Price              string  `json:"price"`
	Category           string  `json:"category"`
	ImageURL           string  `json:"imageUrl"`
	Material           string  `json:"material"`
	Weight             string  `json:"weight"`
	Dimensions         string  `json:"dimensions"`
	Condition          string  `json:"condition"`
	ShippingDimensions string  `json:"shippingDimensions"`
	ShippingWeight     string  `json:"shippingWeight"`
	IsCustom           string  `json:"isCustom"`
	Images             []Media `json:"images"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
