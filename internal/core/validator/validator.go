// Package validator checks documents before they are sent to the Exchange.
//
// Validation is pure: no I/O, no clock. Every violation is collected so a
// caller can present the full list at once. Errors block submission;
// warnings never do.
package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Tolerance is the allowed difference between declared totals and the
// sum of line items, in currency units.
const Tolerance = 0.02

// Error codes.
const (
	CodeTaxIDMissing            = "TAXID_MISSING"
	CodeTaxIDInvalid            = "TAXID_INVALID"
	CodeCounterpartyNameMissing = "COUNTERPARTY_NAME_MISSING"
	CodeCounterpartyTaxIDBad    = "COUNTERPARTY_TAXID_INVALID"
	CodeDocumentNumberMissing   = "DOCUMENT_NUMBER_MISSING"
	CodeDocumentKindInvalid     = "DOCUMENT_KIND_INVALID"
	CodeNoLineItems             = "NO_LINE_ITEMS"
	CodeItemQuantityInvalid     = "ITEM_QUANTITY_INVALID"
	CodeItemPriceInvalid        = "ITEM_PRICE_INVALID"
	CodeTotalsMismatch          = "TOTALS_MISMATCH"
	CodeGrossTotalsMismatch     = "GROSS_TOTALS_MISMATCH"
	CodePayloadTooLarge         = "PAYLOAD_TOO_LARGE"
	CodePayloadBOM              = "PAYLOAD_BOM"
	CodePayloadNotUTF8          = "PAYLOAD_NOT_UTF8"
	CodePayloadEmpty            = "PAYLOAD_EMPTY"
)

// Warning codes.
const (
	CodeIssuerAddressMissing       = "ISSUER_ADDRESS_MISSING"
	CodeCounterpartyAddressMissing = "COUNTERPARTY_ADDRESS_MISSING"
	CodeItemUnitMissing            = "ITEM_UNIT_MISSING"
	CodeIssueDateMissing           = "ISSUE_DATE_MISSING"
)

// Result is the outcome of a validation.
type Result struct {
	Valid    bool               `json:"valid"`
	Errors   []domain.Violation `json:"errors"`
	Warnings []domain.Violation `json:"warnings"`
}

// Err returns a *domain.ValidationFailure when the result has errors.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &domain.ValidationFailure{Errors: r.Errors, Warnings: r.Warnings}
}

func (r *Result) fail(code, field, format string, args ...any) {
	r.Errors = append(r.Errors, domain.Violation{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(code, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, domain.Violation{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
}

var knownKinds = map[domain.DocumentKind]bool{
	domain.KindVAT:        true,
	domain.KindCorrection: true,
	domain.KindAdvance:    true,
	domain.KindSettlement: true,
	domain.KindSimplified: true,
	domain.KindAdvanceKOR: true,
}

// Validate checks doc against issuer and counterparty.
func Validate(doc *domain.Document, issuer domain.IssuerProfile, counterparty domain.Counterparty) Result {
	r := Result{Errors: []domain.Violation{}, Warnings: []domain.Violation{}}

	taxID := domain.NormalizeTaxID(issuer.TaxID)
	switch {
	case strings.TrimSpace(issuer.TaxID) == "":
		r.fail(CodeTaxIDMissing, "issuer.tax_id", "issuer tax id is required")
	case !domain.ValidTaxID(taxID):
		r.fail(CodeTaxIDInvalid, "issuer.tax_id", "issuer tax id %q is not 10 digits with a valid checksum", issuer.TaxID)
	}
	if issuer.Address.IsEmpty() {
		r.warn(CodeIssuerAddressMissing, "issuer.address", "issuer address is empty")
	}

	if strings.TrimSpace(counterparty.Name) == "" {
		r.fail(CodeCounterpartyNameMissing, "counterparty.name", "counterparty name is required")
	}
	if counterparty.TaxID != "" && !domain.ValidTaxID(domain.NormalizeTaxID(counterparty.TaxID)) {
		r.fail(CodeCounterpartyTaxIDBad, "counterparty.tax_id", "counterparty tax id %q is not 10 digits with a valid checksum", counterparty.TaxID)
	}
	if counterparty.Address.IsEmpty() {
		r.warn(CodeCounterpartyAddressMissing, "counterparty.address", "counterparty address is empty")
	}

	if doc == nil {
		r.fail(CodeDocumentNumberMissing, "document.number", "document is required")
		r.Valid = false
		return r
	}

	if strings.TrimSpace(doc.Number) == "" {
		r.fail(CodeDocumentNumberMissing, "document.number", "document number is required")
	}
	if doc.Kind != "" && !knownKinds[doc.Kind] {
		r.fail(CodeDocumentKindInvalid, "document.kind", "unknown document kind %q", doc.Kind)
	}
	if doc.IssueDate.IsZero() {
		r.warn(CodeIssueDateMissing, "document.issue_date", "issue date is empty; today will be used")
	}

	if len(doc.Items) == 0 {
		r.fail(CodeNoLineItems, "document.items", "at least one line item is required")
	}
	for i, it := range doc.Items {
		field := fmt.Sprintf("document.items[%d]", i)
		if !(it.Quantity > 0) {
			r.fail(CodeItemQuantityInvalid, field+".quantity", "quantity must be greater than zero, got %v", it.Quantity)
		}
		if !(it.UnitPrice >= 0) {
			r.fail(CodeItemPriceInvalid, field+".unit_price", "unit price must not be negative, got %v", it.UnitPrice)
		}
		if strings.TrimSpace(it.Unit) == "" {
			r.warn(CodeItemUnitMissing, field+".unit", "unit of measure is empty")
		}
	}

	if len(doc.Items) > 0 {
		if sum := doc.ItemsNet(); !withinTolerance(doc.NetTotal, sum) {
			r.fail(CodeTotalsMismatch, "document.net_total", "declared net total %.2f differs from item sum %.2f", doc.NetTotal, sum)
		}
		if doc.GrossTotal != nil {
			if sum := doc.ItemsGross(); !withinTolerance(*doc.GrossTotal, sum) {
				r.fail(CodeGrossTotalsMismatch, "document.gross_total", "declared gross total %.2f differs from item sum %.2f", *doc.GrossTotal, sum)
			}
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// withinTolerance compares with a small epsilon so that a difference of
// exactly Tolerance is accepted despite float rounding.
func withinTolerance(declared, sum float64) bool {
	return math.Abs(declared-sum) <= Tolerance+1e-9
}
