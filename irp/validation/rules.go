package validation

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTolerance is the largest accepted difference between declared and computed amounts.
const DefaultTolerance = 0.01

// Defaults for the configurable limits.
const (
	DefaultMaxItems = 1000
	DefaultMinTotal = 0
	DefaultMaxTotal = 999999999999.99
)

// Field error codes.
const (
	CodeRequired             = "REQUIRED"
	CodeInvalidTaxScheme     = "INVALID_TAX_SCHEME"
	CodeInvalidSupplyType    = "INVALID_SUPPLY_TYPE"
	CodeInvalidFlag          = "INVALID_FLAG"
	CodeInvalidIgstIntra     = "INVALID_IGST_INTRA"
	CodeInvalidDocType       = "INVALID_DOC_TYPE"
	CodeInvalidDocNumber     = "INVALID_DOC_NUMBER"
	CodeInvalidDocDate       = "INVALID_DOC_DATE"
	CodeFutureDocDate        = "FUTURE_DOC_DATE"
	CodeInvalidGstin         = "INVALID_GSTIN"
	CodeInvalidPan           = "INVALID_PAN"
	CodeMissingLegalName     = "MISSING_LEGAL_NAME"
	CodeInvalidPincode       = "INVALID_PINCODE"
	CodeInvalidStateCode     = "INVALID_STATE_CODE"
	CodeStateCodeMismatch    = "STATE_CODE_MISMATCH"
	CodeInvalidEmail         = "INVALID_EMAIL"
	CodeInvalidPhone         = "INVALID_PHONE"
	CodeNoItems              = "NO_ITEMS"
	CodeTooManyItems         = "TOO_MANY_ITEMS"
	CodeInvalidHsn           = "INVALID_HSN"
	CodeInvalidGstRate       = "INVALID_GST_RATE"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	CodeInvalidItemTotal     = "INVALID_ITEM_TOTAL"
	CodeItemTotalMismatch    = "ITEM_TOTAL_MISMATCH"
	CodeInvalidTotalAmount   = "INVALID_TOTAL_AMOUNT"
	CodeTotalMismatch        = "TOTAL_MISMATCH"
	CodeAssessableMismatch   = "ASSESSABLE_VALUE_MISMATCH"
	CodeMissingExportDetails = "MISSING_EXPORT_DETAILS"
)

var (
	// DefaultDocNumberPattern allows up to 16 characters, first one not zero nor a separator.
	DefaultDocNumberPattern = regexp.MustCompile(`^[A-Za-z1-9][A-Za-z0-9/-]{0,15}$`)

	gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)
	panPattern   = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	datePattern  = regexp.MustCompile(`^[0-9]{2}/[0-9]{2}/[0-9]{4}$`)
	pinPattern   = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	hsnPattern   = regexp.MustCompile(`^[0-9]{4}([0-9]{2}){0,2}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^[0-9]{6,12}$`)
)

var supplyTypes = set("B2B", "SEZWP", "SEZWOP", "EXPWP", "EXPWOP", "DEXP")

var documentTypes = set("INV", "CRN", "DBN")

// stateCodes are the region codes the Registry knows; 96 is "other country", 97 "other territory".
var stateCodes = set(
	"01", "02", "03", "04", "05", "06", "07", "08", "09", "10",
	"11", "12", "13", "14", "15", "16", "17", "18", "19", "20",
	"21", "22", "23", "24", "25", "26", "27", "28", "29", "30",
	"31", "32", "33", "34", "35", "36", "37", "38", "96", "97",
)

// gstRates holds the allowed tax rates in their canonical decimal rendering.
var gstRates = set("0", "0.1", "0.25", "1", "1.5", "3", "5", "6", "7.5", "12", "18", "28")

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func in(m map[string]struct{}, v string) bool {
	_, ok := m[v]
	return ok
}

// ValidTaxID reports whether s is a structurally valid tax identifier (GSTIN).
func ValidTaxID(s string) bool {
	return gstinPattern.MatchString(s) && panPattern.MatchString(s[2:12])
}

// ValidStateCode reports whether code is a known region code.
func ValidStateCode(code string) bool {
	return in(stateCodes, code)
}

// AllowedRate reports whether rate belongs to the fixed set of tax rates.
func AllowedRate(rate float64) bool {
	return in(gstRates, decimal.NewFromFloat(rate).String())
}

func validFlag(v string) bool {
	return v == "" || v == "Y" || v == "N"
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
