// Package invoicexml renders documents in the Exchange's structured invoice
// schema and reads header fields back from mirrored invoices.
package invoicexml

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Namespace is the FA(3) schema namespace.
const Namespace = "http://crd.gov.pl/wzor/2025/06/25/13775/"

// SystemInfo identifies the producing software in the invoice header.
const SystemInfo = "ksefbridge"

// rateFields maps VAT rates to the net and tax summary fields of the schema.
var rateFields = map[float64][2]string{
	23: {"P_13_1", "P_14_1"},
	22: {"P_13_1", "P_14_1"},
	8:  {"P_13_2", "P_14_2"},
	7:  {"P_13_2", "P_14_2"},
	5:  {"P_13_3", "P_14_3"},
	0:  {"P_13_6_1", ""},
}

// Build renders doc as UTF-8 XML without a byte-order mark.
func Build(doc *domain.Document, issuer domain.IssuerProfile, counterparty domain.Counterparty, form domain.FormCode, generatedAt time.Time) ([]byte, error) {
	if doc == nil {
		return nil, domain.ErrMissingArgument.WithDetails("document is required")
	}
	issueDate := doc.IssueDate
	if issueDate.IsZero() {
		issueDate = generatedAt
	}
	currency := doc.Currency
	if currency == "" {
		currency = "PLN"
	}
	kind := doc.EffectiveKind()

	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := x.CreateElement("Faktura")
	root.CreateAttr("xmlns", Namespace)

	hdr := root.CreateElement("Naglowek")
	code := hdr.CreateElement("KodFormularza")
	code.CreateAttr("kodSystemowy", form.SystemCode)
	code.CreateAttr("wersjaSchemy", form.SchemaVersion)
	code.SetText(form.Value)
	hdr.CreateElement("WariantFormularza").SetText("3")
	hdr.CreateElement("DataWytworzeniaFa").SetText(generatedAt.UTC().Format(time.RFC3339))
	hdr.CreateElement("SystemInfo").SetText(SystemInfo)

	seller := root.CreateElement("Podmiot1")
	id := seller.CreateElement("DaneIdentyfikacyjne")
	id.CreateElement("NIP").SetText(domain.NormalizeTaxID(issuer.TaxID))
	id.CreateElement("Nazwa").SetText(issuer.Name)
	writeAddress(seller, issuer.Address)

	buyer := root.CreateElement("Podmiot2")
	id = buyer.CreateElement("DaneIdentyfikacyjne")
	if counterparty.TaxID != "" {
		id.CreateElement("NIP").SetText(domain.NormalizeTaxID(counterparty.TaxID))
	} else {
		id.CreateElement("BrakID").SetText("1")
	}
	id.CreateElement("Nazwa").SetText(counterparty.Name)
	writeAddress(buyer, counterparty.Address)
	buyer.CreateElement("JST").SetText("2")
	buyer.CreateElement("GV").SetText("2")

	fa := root.CreateElement("Fa")
	fa.CreateElement("KodWaluty").SetText(currency)
	fa.CreateElement("P_1").SetText(issueDate.Format(time.DateOnly))
	fa.CreateElement("P_2").SetText(doc.Number)
	if !doc.SaleDate.IsZero() {
		fa.CreateElement("P_6").SetText(doc.SaleDate.Format(time.DateOnly))
	}

	for _, s := range summarize(doc.Items) {
		fa.CreateElement(s.netField).SetText(amount(s.net))
		if s.taxField != "" {
			fa.CreateElement(s.taxField).SetText(amount(s.tax))
		}
	}
	gross := doc.ItemsGross()
	if doc.GrossTotal != nil {
		gross = domain.Round2(*doc.GrossTotal)
	}
	fa.CreateElement("P_15").SetText(amount(gross))

	ann := fa.CreateElement("Adnotacje")
	ann.CreateElement("P_16").SetText("2")
	ann.CreateElement("P_17").SetText("2")
	ann.CreateElement("P_18").SetText("2")
	ann.CreateElement("P_18A").SetText("2")
	ann.CreateElement("Zwolnienie").CreateElement("P_19N").SetText("1")
	ann.CreateElement("NoweSrodkiTransportu").CreateElement("P_22N").SetText("1")
	ann.CreateElement("P_23").SetText("2")
	ann.CreateElement("PMarzy").CreateElement("P_PMarzyN").SetText("1")

	fa.CreateElement("RodzajFaktury").SetText(string(kind))

	for i, it := range doc.Items {
		row := fa.CreateElement("FaWiersz")
		row.CreateElement("NrWierszaFa").SetText(strconv.Itoa(i + 1))
		row.CreateElement("P_7").SetText(it.Name)
		if it.Unit != "" {
			row.CreateElement("P_8A").SetText(it.Unit)
		}
		row.CreateElement("P_8B").SetText(strconv.FormatFloat(it.Quantity, 'f', -1, 64))
		row.CreateElement("P_9A").SetText(amount(it.UnitPrice))
		row.CreateElement("P_11").SetText(amount(it.Net()))
		row.CreateElement("P_12").SetText(rateLabel(it.VATRate))
	}

	x.Indent(2)
	out, err := x.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("invoicexml: write: %w", err)
	}
	return out, nil
}

func writeAddress(parent *etree.Element, a domain.Address) {
	if a.IsEmpty() {
		return
	}
	addr := parent.CreateElement("Adres")
	country := a.CountryCode
	if country == "" {
		country = "PL"
	}
	addr.CreateElement("KodKraju").SetText(country)
	addr.CreateElement("AdresL1").SetText(a.Line1)
	if a.Line2 != "" {
		addr.CreateElement("AdresL2").SetText(a.Line2)
	}
}

type rateSummary struct {
	netField string
	taxField string
	net      float64
	tax      float64
}

// summarize groups items by schema summary field, in field order.
func summarize(items []domain.LineItem) []rateSummary {
	byField := make(map[string]*rateSummary)
	for _, it := range items {
		fields, ok := rateFields[it.VATRate]
		if !ok {
			fields = [2]string{"P_13_1", "P_14_1"}
		}
		s, ok := byField[fields[0]]
		if !ok {
			s = &rateSummary{netField: fields[0], taxField: fields[1]}
			byField[fields[0]] = s
		}
		s.net += it.Net()
		s.tax += it.Gross() - it.Net()
	}

	out := make([]rateSummary, 0, len(byField))
	for _, s := range byField {
		s.net = domain.Round2(s.net)
		s.tax = domain.Round2(s.tax)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].netField < out[j].netField })
	return out
}

func amount(v float64) string {
	return strconv.FormatFloat(domain.Round2(v), 'f', 2, 64)
}

func rateLabel(rate float64) string {
	if rate == 0 {
		return "zw"
	}
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
