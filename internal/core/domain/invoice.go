package domain

import (
	"math"
	"time"
)

// Payload size caps enforced by the Exchange.
const (
	MaxPayloadSize               = 1 << 20 // 1 MB
	MaxPayloadSizeWithAttachment = 3 << 20 // 3 MB
)

// DocumentKind is the invoice type code used in the structured invoice schema.
type DocumentKind string

const (
	KindVAT        DocumentKind = "VAT"     // regular invoice
	KindCorrection DocumentKind = "KOR"     // correcting invoice
	KindAdvance    DocumentKind = "ZAL"     // advance payment invoice
	KindSettlement DocumentKind = "ROZ"     // settlement invoice
	KindSimplified DocumentKind = "UPR"     // simplified invoice
	KindAdvanceKOR DocumentKind = "KOR_ZAL" // correction of an advance invoice
)

// Address is a postal address in the invoice schema layout.
type Address struct {
	CountryCode string `json:"country_code"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
}

// IsEmpty reports whether no address line was supplied.
func (a Address) IsEmpty() bool {
	return a.Line1 == "" && a.Line2 == ""
}

// IssuerProfile describes the seller issuing the document.
type IssuerProfile struct {
	TaxID   string  `json:"tax_id"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// Counterparty describes the buyer.
type Counterparty struct {
	TaxID   string  `json:"tax_id,omitempty"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// LineItem is a single invoice row.
type LineItem struct {
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	// VATRate is a percentage (23, 8, 5, 0). Exempt rows use 0.
	VATRate float64 `json:"vat_rate"`
}

// Net returns quantity times unit net price.
func (li LineItem) Net() float64 {
	return li.Quantity * li.UnitPrice
}

// Gross returns the net value with VAT applied.
func (li LineItem) Gross() float64 {
	return li.Net() * (1 + li.VATRate/100)
}

// Document is an invoice prepared for submission.
type Document struct {
	Kind      DocumentKind `json:"kind"`
	Number    string       `json:"number"`
	IssueDate time.Time    `json:"issue_date"`
	SaleDate  time.Time    `json:"sale_date,omitempty"`
	Currency  string       `json:"currency"`
	Items     []LineItem   `json:"items"`
	NetTotal  float64      `json:"net_total"`
	// GrossTotal is optional; when nil the gross consistency check is skipped.
	GrossTotal *float64 `json:"gross_total,omitempty"`
}

// EffectiveKind returns the document kind, VAT when none was given.
func (d *Document) EffectiveKind() DocumentKind {
	if d.Kind == "" {
		return KindVAT
	}
	return d.Kind
}

// ItemsNet sums the net value of all items.
func (d *Document) ItemsNet() float64 {
	var sum float64
	for _, it := range d.Items {
		sum += it.Net()
	}
	return Round2(sum)
}

// ItemsGross sums the gross value of all items.
func (d *Document) ItemsGross() float64 {
	var sum float64
	for _, it := range d.Items {
		sum += it.Gross()
	}
	return Round2(sum)
}

// ItemsVAT is the difference between gross and net item sums.
func (d *Document) ItemsVAT() float64 {
	return Round2(d.ItemsGross() - d.ItemsNet())
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
