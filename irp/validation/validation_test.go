package validation

import (
	"regexp"
	"testing"
	"time"

	"github.com/alapierre/go-irp-client/irp/irptest"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(opts ...Option) *Validator {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 10, 12, 0, 0, 0, model.RegistryLocation))
	return New(append([]Option{WithClock(clock)}, opts...)...)
}

func TestValidate_SampleIsValid(t *testing.T) {
	res := newValidator().Validate(irptest.SampleDocument())
	assert.True(t, res.Valid, "%v", res.Errors)
	assert.NoError(t, res.Err())
}

func TestValidate_ExportToUnregisteredBuyer(t *testing.T) {
	res := newValidator().Validate(irptest.ExportDocument())
	assert.True(t, res.Valid, "%v", res.Errors)
}

func TestValidate_NilDocument(t *testing.T) {
	res := newValidator().Validate(nil)
	assert.False(t, res.Valid)
	assert.True(t, res.Errors.Has(CodeRequired))
}

func TestValidate_IgstOnIntraRequiresSameRegion(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Transaction.IgstOnIntra = "Y"

	res := newValidator().Validate(doc)
	require.False(t, res.Valid)
	assert.Equal(t, []string{CodeInvalidIgstIntra}, res.Errors.Codes())
	assert.Equal(t, "TranDtls.IgstOnIntra", res.Errors[0].Field)

	doc.Buyer.Gstin = "29AAACI1681G1ZM"
	doc.Buyer.StateCode = "29"
	res = newValidator().Validate(doc)
	assert.True(t, res.Valid, "%v", res.Errors)
}

func TestValidate_Tolerance(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Items[0].TotalValue = 1180.009
	doc.Values.TotalValue = 1180.009
	res := newValidator().Validate(doc)
	assert.True(t, res.Valid, "%v", res.Errors)

	doc = irptest.SampleDocument()
	doc.Items[0].TotalValue = 1180.011
	res = newValidator().Validate(doc)
	assert.False(t, res.Valid)
	assert.True(t, res.Errors.Has(CodeItemTotalMismatch))

	doc = irptest.SampleDocument()
	doc.Values.TotalValue = 1180.011
	res = newValidator().Validate(doc)
	assert.Equal(t, []string{CodeTotalMismatch}, res.Errors.Codes())
}

func TestValidate_TotalsWithChargesAndRoundOff(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Values.OtherCharge = 20
	doc.Values.Discount = 0.4
	doc.Values.RoundOff = 0.4
	doc.Values.TotalValue = 1200
	res := newValidator().Validate(doc)
	assert.True(t, res.Valid, "%v", res.Errors)
}

func TestValidate_AssessableValue(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Values.AssValue = 999
	res := newValidator().Validate(doc)
	assert.Equal(t, []string{CodeAssessableMismatch}, res.Errors.Codes())
}

func TestValidate_DocumentDate(t *testing.T) {
	cases := []struct {
		date string
		code string
	}{
		{"31/02/2024", CodeInvalidDocDate},
		{"29/02/2023", CodeInvalidDocDate},
		{"2024-03-05", CodeInvalidDocDate},
		{"5/3/2024", CodeInvalidDocDate},
		{"11/03/2024", CodeFutureDocDate},
		{"10/03/2024", ""},
		{"29/02/2024", ""},
	}
	for _, tc := range cases {
		t.Run(tc.date, func(t *testing.T) {
			doc := irptest.SampleDocument()
			doc.Doc.Date = tc.date
			res := newValidator().Validate(doc)
			if tc.code == "" {
				assert.True(t, res.Valid, "%v", res.Errors)
				return
			}
			assert.Equal(t, []string{tc.code}, res.Errors.Codes())
		})
	}
}

func TestValidate_DocumentNumber(t *testing.T) {
	for _, no := range []string{"0INV1", "/INV1", "", "INV/2024/00000001", "INV 1", "INV|1", `INV\1`} {
		doc := irptest.SampleDocument()
		doc.Doc.Number = no
		res := newValidator().Validate(doc)
		assert.Equal(t, []string{CodeInvalidDocNumber}, res.Errors.Codes(), no)
	}

	doc := irptest.SampleDocument()
	doc.Doc.Number = "0001"
	v := newValidator(WithDocumentNumberPattern(regexp.MustCompile(`^[0-9]{4}$`)))
	assert.True(t, v.Validate(doc).Valid)
}

func TestValidate_TransactionAndDocType(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Transaction.TaxScheme = "VAT"
	doc.Transaction.SupplyType = "B2C"
	doc.Doc.Type = "PRO"
	doc.Transaction.RegRev = "yes"

	res := newValidator().Validate(doc)
	assert.ElementsMatch(t,
		[]string{CodeInvalidTaxScheme, CodeInvalidSupplyType, CodeInvalidDocType, CodeInvalidFlag},
		res.Errors.Codes())
}

func TestValidate_Parties(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Seller.Gstin = "29AAGCB1286Q1Y5"
	doc.Seller.LegalName = "  "
	doc.Seller.Pin = 60025
	doc.Seller.Email = "billing"
	doc.Seller.Phone = "12345"
	doc.Buyer.StateCode = "27"

	res := newValidator().Validate(doc)
	assert.ElementsMatch(t, []string{
		CodeInvalidGstin,
		CodeMissingLegalName,
		CodeInvalidPincode,
		CodeInvalidEmail,
		CodeInvalidPhone,
		CodeStateCodeMismatch,
	}, res.Errors.Codes())
}

func TestValidate_StateCodes(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Buyer.StateCode = "40"
	res := newValidator().Validate(doc)
	assert.Equal(t, []string{CodeInvalidStateCode}, res.Errors.Codes())

	assert.True(t, ValidStateCode("01"))
	assert.True(t, ValidStateCode("38"))
	assert.True(t, ValidStateCode("97"))
	assert.False(t, ValidStateCode("00"))
	assert.False(t, ValidStateCode("39"))
}

func TestValidate_UnregisteredBuyerOnlyForExport(t *testing.T) {
	doc := irptest.ExportDocument()
	doc.Transaction.SupplyType = model.SupplyB2B
	doc.Export = nil
	res := newValidator().Validate(doc)
	assert.True(t, res.Errors.Has(CodeInvalidGstin))

	doc = irptest.ExportDocument()
	doc.Buyer.StateCode = "07"
	res = newValidator().Validate(doc)
	assert.Equal(t, []string{CodeStateCodeMismatch}, res.Errors.Codes())
}

func TestValidate_MissingExportDetails(t *testing.T) {
	doc := irptest.ExportDocument()
	doc.Export = nil
	res := newValidator().Validate(doc)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeMissingExportDetails, res.Errors[0].Code)
	assert.Equal(t, "ExpDtls", res.Errors[0].Field)
}

func TestValidate_Items(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Items[0].HsnCode = "84733"
	doc.Items[0].GstRate = 17
	doc.Items[0].Quantity = 0
	res := newValidator().Validate(doc)
	assert.ElementsMatch(t, []string{CodeInvalidHsn, CodeInvalidGstRate, CodeInvalidQuantity}, res.Errors.Codes())
	assert.Equal(t, "ItemList[0].HsnCd", res.Errors[0].Field)

	doc = irptest.SampleDocument()
	doc.Items = nil
	res = newValidator().Validate(doc)
	assert.Equal(t, []string{CodeNoItems}, res.Errors.Codes())
}

func TestValidate_TooManyItems(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Items = append(doc.Items, doc.Items[0])
	doc.Items[1].SerialNo = "2"
	doc.Values.AssValue = 2000
	doc.Values.IgstValue = 360
	doc.Values.TotalValue = 2360

	assert.True(t, newValidator().Validate(doc).Valid)

	res := newValidator(WithMaxItems(1)).Validate(doc)
	assert.Equal(t, []string{CodeTooManyItems}, res.Errors.Codes())
}

func TestValidate_TotalRange(t *testing.T) {
	res := newValidator(WithTotalRange(0, 1000)).Validate(irptest.SampleDocument())
	assert.Equal(t, []string{CodeInvalidTotalAmount}, res.Errors.Codes())
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Seller.Gstin = "BAD"
	doc.Doc.Date = "31/02/2024"
	doc.Export = nil
	doc.Transaction.SupplyType = model.SupplyEXPWOP

	res := newValidator().Validate(doc)
	assert.False(t, res.Valid)
	assert.True(t, res.Errors.Has(CodeInvalidGstin))
	assert.True(t, res.Errors.Has(CodeInvalidDocDate))
	assert.True(t, res.Errors.Has(CodeMissingExportDetails))
	assert.Contains(t, res.Err().Error(), "SellerDtls.Gstin")
}

func TestAllowedRate(t *testing.T) {
	for _, r := range []float64{0, 0.1, 0.25, 1, 1.5, 3, 5, 6, 7.5, 12, 18, 28} {
		assert.True(t, AllowedRate(r), "%v", r)
	}
	for _, r := range []float64{0.2, 2, 10, 17, 40} {
		assert.False(t, AllowedRate(r), "%v", r)
	}
}

func TestValidTaxID(t *testing.T) {
	assert.True(t, ValidTaxID(irptest.SellerGstin))
	assert.True(t, ValidTaxID(irptest.BuyerGstin))
	assert.False(t, ValidTaxID("29AAGCB1286Q1Z"))
	assert.False(t, ValidTaxID("29aagcb1286q1z5"))
	assert.False(t, ValidTaxID(""))
}

func TestValidator_LookupKey(t *testing.T) {
	v := newValidator()
	assert.Empty(t, v.LookupKey("INV", "INV/2024/0001", "05/03/2024"))

	errs := v.LookupKey("XYZ", "", "2024-03-05")
	assert.Equal(t, []string{CodeInvalidDocType, CodeInvalidDocNumber, CodeInvalidDocDate}, errs.Codes())
}

func TestValidate_CustomTolerance(t *testing.T) {
	doc := irptest.SampleDocument()
	doc.Values.TotalValue = 1180.05
	assert.False(t, newValidator().Validate(doc).Valid)
	assert.True(t, newValidator(WithTolerance(0.1)).Validate(doc).Valid)
}
