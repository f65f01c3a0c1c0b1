package invoicexml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Header is the subset of an invoice needed to index a mirrored document.
type Header struct {
	FormCode      domain.FormCode
	InvoiceNumber string
	IssueDate     string
	SellerTaxID   string
	BuyerTaxID    string
	Currency      string
	GrossTotal    float64
}

// ParseHeader reads header fields from invoice XML.
func ParseHeader(data []byte) (*Header, error) {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(data); err != nil {
		return nil, domain.ErrUnexpectedResponse.WithDetails("invoice xml").WithCause(err)
	}
	root := x.Root()
	if root == nil || root.Tag != "Faktura" {
		return nil, domain.ErrUnexpectedResponse.WithDetails("missing Faktura root element")
	}

	h := &Header{
		InvoiceNumber: text(root, "Fa/P_2"),
		IssueDate:     text(root, "Fa/P_1"),
		SellerTaxID:   text(root, "Podmiot1/DaneIdentyfikacyjne/NIP"),
		BuyerTaxID:    text(root, "Podmiot2/DaneIdentyfikacyjne/NIP"),
		Currency:      text(root, "Fa/KodWaluty"),
	}
	if code := root.FindElement("Naglowek/KodFormularza"); code != nil {
		h.FormCode = domain.FormCode{
			SystemCode:    code.SelectAttrValue("kodSystemowy", ""),
			SchemaVersion: code.SelectAttrValue("wersjaSchemy", ""),
			Value:         strings.TrimSpace(code.Text()),
		}
	}
	if gross := text(root, "Fa/P_15"); gross != "" {
		v, err := strconv.ParseFloat(gross, 64)
		if err != nil {
			return nil, domain.ErrUnexpectedResponse.WithDetails(fmt.Sprintf("P_15 %q is not a number", gross))
		}
		h.GrossTotal = v
	}
	if h.InvoiceNumber == "" {
		return nil, domain.ErrUnexpectedResponse.WithDetails("invoice number (P_2) is missing")
	}
	return h, nil
}

func text(root *etree.Element, path string) string {
	if el := root.FindElement(path); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}
