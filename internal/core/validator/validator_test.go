package validator

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

func validIssuer() domain.IssuerProfile {
	return domain.IssuerProfile{
		TaxID:   "1234563218",
		Name:    "Seller Sp. z o.o.",
		Address: domain.Address{CountryCode: "PL", Line1: "ul. Prosta 1, 00-001 Warszawa"},
	}
}

func validCounterparty() domain.Counterparty {
	return domain.Counterparty{
		TaxID:   "5261040828",
		Name:    "Buyer S.A.",
		Address: domain.Address{CountryCode: "PL", Line1: "ul. Krzywa 2, 30-001 Krakow"},
	}
}

func validDocument(net float64) *domain.Document {
	return &domain.Document{
		Kind:      domain.KindVAT,
		Number:    "FV/2025/03/001",
		IssueDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "PLN",
		Items:     []domain.LineItem{{Name: "Consulting", Unit: "h", Quantity: 2, UnitPrice: 100, VATRate: 23}},
		NetTotal:  net,
	}
}

func codes(vs []domain.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

func TestValidate_TotalsScenario(t *testing.T) {
	ok := Validate(validDocument(200), validIssuer(), validCounterparty())
	assert.True(t, ok.Valid)
	assert.Empty(t, ok.Errors)
	assert.NoError(t, ok.Err())

	bad := Validate(validDocument(199), validIssuer(), validCounterparty())
	assert.False(t, bad.Valid)
	assert.Equal(t, []string{CodeTotalsMismatch}, codes(bad.Errors))

	var vf *domain.ValidationFailure
	require.True(t, errors.As(bad.Err(), &vf))
	assert.ErrorIs(t, bad.Err(), domain.ErrValidationFailed)
}

func TestValidate_Tolerance(t *testing.T) {
	tests := []struct {
		net   float64
		valid bool
	}{
		{200.00, true},
		{200.01, true},
		{199.98, true},
		{200.02, true},
		{200.03, false},
		{199.97, false},
	}
	for _, tt := range tests {
		r := Validate(validDocument(tt.net), validIssuer(), validCounterparty())
		assert.Equal(t, tt.valid, r.Valid, "net %.2f", tt.net)
	}
}

func TestValidate_GrossTotals(t *testing.T) {
	doc := validDocument(200)
	gross := 246.0
	doc.GrossTotal = &gross
	assert.True(t, Validate(doc, validIssuer(), validCounterparty()).Valid)

	wrong := 240.0
	doc.GrossTotal = &wrong
	r := Validate(doc, validIssuer(), validCounterparty())
	assert.Equal(t, []string{CodeGrossTotalsMismatch}, codes(r.Errors))
}

func TestValidate_InvalidItems(t *testing.T) {
	tests := []struct {
		name string
		item domain.LineItem
		code string
	}{
		{"zero quantity", domain.LineItem{Unit: "szt", Quantity: 0, UnitPrice: 10}, CodeItemQuantityInvalid},
		{"negative quantity", domain.LineItem{Unit: "szt", Quantity: -1, UnitPrice: 10}, CodeItemQuantityInvalid},
		{"negative price", domain.LineItem{Unit: "szt", Quantity: 1, UnitPrice: -0.01}, CodeItemPriceInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument(0)
			doc.Items = []domain.LineItem{tt.item}
			doc.NetTotal = doc.ItemsNet()

			r := Validate(doc, validIssuer(), validCounterparty())
			assert.False(t, r.Valid)
			assert.Contains(t, codes(r.Errors), tt.code)
		})
	}
}

func TestValidate_FreePriceIsValid(t *testing.T) {
	doc := validDocument(0)
	doc.Items[0].UnitPrice = 0
	assert.True(t, Validate(doc, validIssuer(), validCounterparty()).Valid)
}

func TestValidate_CollectsAllViolationsInOrder(t *testing.T) {
	doc := &domain.Document{Kind: domain.KindVAT}
	issuer := domain.IssuerProfile{TaxID: "1234563219"}
	cp := domain.Counterparty{}

	r := Validate(doc, issuer, cp)
	assert.False(t, r.Valid)
	assert.Equal(t, []string{
		CodeTaxIDInvalid,
		CodeCounterpartyNameMissing,
		CodeDocumentNumberMissing,
		CodeNoLineItems,
	}, codes(r.Errors))
	assert.Equal(t, []string{
		CodeIssuerAddressMissing,
		CodeCounterpartyAddressMissing,
		CodeIssueDateMissing,
	}, codes(r.Warnings))
}

func TestValidate_MissingTaxID(t *testing.T) {
	issuer := validIssuer()
	issuer.TaxID = "  "
	r := Validate(validDocument(200), issuer, validCounterparty())
	assert.Equal(t, []string{CodeTaxIDMissing}, codes(r.Errors))
}

func TestValidate_TaxIDCharacters(t *testing.T) {
	tests := []struct {
		taxID string
		valid bool
	}{
		{"PL 123-456-32-18", true},
		{"123 456 32 18", true},
		{"12X34563218", false},
		{"1234563218abc", false},
		{"1234563218/", false},
	}
	for _, tt := range tests {
		t.Run(tt.taxID, func(t *testing.T) {
			issuer := validIssuer()
			issuer.TaxID = tt.taxID
			r := Validate(validDocument(200), issuer, validCounterparty())
			assert.Equal(t, tt.valid, r.Valid)
			if !tt.valid {
				assert.Equal(t, []string{CodeTaxIDInvalid}, codes(r.Errors))
			}
		})
	}

	cp := validCounterparty()
	cp.TaxID = "52610408X28"
	r := Validate(validDocument(200), validIssuer(), cp)
	assert.Equal(t, []string{CodeCounterpartyTaxIDBad}, codes(r.Errors))
}

func TestValidate_EmptyKindIsVAT(t *testing.T) {
	doc := validDocument(200)
	doc.Kind = ""
	assert.True(t, Validate(doc, validIssuer(), validCounterparty()).Valid)
	assert.Equal(t, domain.KindVAT, doc.EffectiveKind())
}

func TestValidate_WarningsDoNotBlock(t *testing.T) {
	doc := validDocument(200)
	doc.Items[0].Unit = ""
	issuer := validIssuer()
	issuer.Address = domain.Address{}

	r := Validate(doc, issuer, validCounterparty())
	assert.True(t, r.Valid)
	assert.Equal(t, []string{CodeIssuerAddressMissing, CodeItemUnitMissing}, codes(r.Warnings))
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		attach  bool
		want    []string
	}{
		{"ok", []byte("<Faktura/>"), false, nil},
		{"empty", nil, false, []string{CodePayloadEmpty}},
		{"bom", append([]byte{0xEF, 0xBB, 0xBF}, "<Faktura/>"...), false, []string{CodePayloadBOM}},
		{"not utf8", []byte{'<', 0xff, '>'}, false, []string{CodePayloadNotUTF8}},
		{"too large", bytes.Repeat([]byte("a"), domain.MaxPayloadSize+1), false, []string{CodePayloadTooLarge}},
		{"large with attachment", bytes.Repeat([]byte("a"), domain.MaxPayloadSize+1), true, nil},
		{"too large with attachment", bytes.Repeat([]byte("a"), domain.MaxPayloadSizeWithAttachment+1), true, []string{CodePayloadTooLarge}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ValidatePayload(tt.payload, tt.attach)
			if tt.want == nil {
				assert.True(t, r.Valid)
				assert.NoError(t, PayloadErr(r))
				return
			}
			assert.Equal(t, tt.want, codes(r.Errors))
		})
	}
}

func TestPayloadErr(t *testing.T) {
	big := ValidatePayload(bytes.Repeat([]byte("a"), domain.MaxPayloadSize+1), false)
	assert.ErrorIs(t, PayloadErr(big), domain.ErrPayloadTooLarge)
	assert.ErrorIs(t, PayloadErr(big), domain.ErrValidationFailed)

	bom := ValidatePayload([]byte{0xEF, 0xBB, 0xBF, 'a'}, false)
	assert.ErrorIs(t, PayloadErr(bom), domain.ErrPayloadEncoding)
}
