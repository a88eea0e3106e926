// Package irn computes the Invoice Reference Number locally, the same way the Registry does.
package irn

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/shopspring/decimal"
)

const separator = "|"

var pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Input holds the identity fields an IRN is derived from.
type Input struct {
	SupplyType     string
	DocumentType   string
	DocumentNumber string
	DocumentDate   string
	SellerTaxID    string
	BuyerTaxID     string
	GrandTotal     decimal.Decimal
}

// InputFromDocument extracts the identity fields of doc.
func InputFromDocument(doc *model.Document) Input {
	return Input{
		SupplyType:     doc.Transaction.SupplyType,
		DocumentType:   doc.Doc.Type,
		DocumentNumber: doc.Doc.Number,
		DocumentDate:   doc.Doc.Date,
		SellerTaxID:    doc.Seller.Gstin,
		BuyerTaxID:     doc.Buyer.Gstin,
		GrandTotal:     decimal.NewFromFloat(doc.Values.TotalValue),
	}
}

var escaper = strings.NewReplacer(`\`, `\\`, separator, `\`+separator)

// Compute returns the lowercase hex SHA-256 of the seven identity fields joined with "|":
// supply type, document type, number and date, seller and buyer tax ids, grand total.
// The total is rendered with exactly two decimals so 100, 100.0 and 100.00 hash alike.
// A "|" or "\" inside a field is backslash escaped first. Documents accepted by the
// default validator never contain either character, so for them the input is the plain join.
func Compute(in Input) string {
	fields := []string{
		in.SupplyType,
		in.DocumentType,
		in.DocumentNumber,
		in.DocumentDate,
		in.SellerTaxID,
		in.BuyerTaxID,
		in.GrandTotal.StringFixed(2),
	}
	for i, f := range fields {
		fields[i] = escaper.Replace(f)
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, separator)))
	return hex.EncodeToString(sum[:])
}

// ForDocument is shorthand for Compute(InputFromDocument(doc)).
func ForDocument(doc *model.Document) string {
	return Compute(InputFromDocument(doc))
}

// Valid reports whether s looks like an IRN.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
