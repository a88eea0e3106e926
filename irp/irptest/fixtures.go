package irptest

import (
	"fmt"

	"github.com/alapierre/go-irp-client/irp/model"
)

// Tax identifiers used by SampleDocument.
const (
	SellerGstin = "29AAGCB1286Q1Z5"
	BuyerGstin  = "07AAACI1681G1ZM"
)

// SampleDocument returns a valid inter-state B2B invoice dated 05/03/2024
// with a single line of 1000.00 plus 18% IGST.
func SampleDocument() *model.Document {
	return &model.Document{
		Version: model.SchemaVersion,
		Transaction: model.TransactionDetails{
			TaxScheme:  model.TaxSchemeGST,
			SupplyType: model.SupplyB2B,
			RegRev:     "N",
		},
		Doc: model.DocumentDetails{
			Type:   model.DocInvoice,
			Number: "INV/2024/0001",
			Date:   "05/03/2024",
		},
		Seller: model.Party{
			Gstin:     SellerGstin,
			LegalName: "Bharat Tools Pvt Ltd",
			Address1:  "12 Residency Road",
			Location:  "Bengaluru",
			Pin:       560025,
			StateCode: "29",
			Phone:     "9876543210",
			Email:     "billing@bharattools.example",
		},
		Buyer: model.Party{
			Gstin:         BuyerGstin,
			LegalName:     "Indus Retail Ltd",
			PlaceOfSupply: "07",
			Address1:      "4 Connaught Place",
			Location:      "New Delhi",
			Pin:           110001,
			StateCode:     "07",
		},
		Items: []model.Item{{
			SerialNo:    "1",
			Description: "Laptop stand",
			IsService:   "N",
			HsnCode:     "847330",
			Quantity:    2,
			Unit:        "NOS",
			UnitPrice:   500,
			TotalAmount: 1000,
			AssAmount:   1000,
			GstRate:     18,
			IgstAmount:  180,
			TotalValue:  1180,
		}},
		Values: model.ValueDetails{
			AssValue:   1000,
			IgstValue:  180,
			TotalValue: 1180,
		},
	}
}

// SampleDocuments returns n valid documents with distinct numbers.
func SampleDocuments(n int) []*model.Document {
	docs := make([]*model.Document, n)
	for i := range docs {
		d := SampleDocument()
		d.Doc.Number = fmt.Sprintf("INV/2024/%04d", i+1)
		docs[i] = d
	}
	return docs
}

// ExportDocument returns a valid export invoice to an unregistered foreign buyer.
func ExportDocument() *model.Document {
	d := SampleDocument()
	d.Transaction.SupplyType = model.SupplyEXPWP
	d.Doc.Number = "EXP/2024/0001"
	d.Buyer = model.Party{
		Gstin:     model.UnregisteredPerson,
		LegalName: "Harbour Imports GmbH",
		Address1:  "Speicherstadt 1",
		Location:  "Hamburg",
		Pin:       999999,
		StateCode: "96",
	}
	d.Export = &model.ExportDetails{
		Port:            "INBLR4",
		ForeignCurrency: "EUR",
		CountryCode:     "DE",
	}
	return d
}
