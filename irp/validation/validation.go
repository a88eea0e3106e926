// Package validation checks documents before they are sent to the Registry.
// It never performs I/O; all failures for a document are collected in one pass.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// FieldError describes a single failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// Errors is the list of failures collected for one document.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// Has reports whether any failure carries code.
func (e Errors) Has(code string) bool {
	for _, fe := range e {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// Codes returns failure codes in the order they were found.
func (e Errors) Codes() []string {
	codes := make([]string, len(e))
	for i, fe := range e {
		codes[i] = fe.Code
	}
	return codes
}

// Result of validating one document.
type Result struct {
	Valid  bool   `json:"valid"`
	Errors Errors `json:"errors,omitempty"`
}

// Err returns nil for a valid result, Errors otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return r.Errors
}

type Validator struct {
	docNumber *regexp.Regexp
	maxItems  int
	minTotal  decimal.Decimal
	maxTotal  decimal.Decimal
	tolerance decimal.Decimal
	clock     clockwork.Clock
	location  *time.Location
}

type Option func(*Validator)

// WithDocumentNumberPattern replaces DefaultDocNumberPattern.
func WithDocumentNumberPattern(re *regexp.Regexp) Option {
	return func(v *Validator) {
		if re != nil {
			v.docNumber = re
		}
	}
}

func WithMaxItems(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxItems = n
		}
	}
}

// WithTotalRange sets the inclusive band for the document grand total.
func WithTotalRange(min, max float64) Option {
	return func(v *Validator) {
		v.minTotal = decimal.NewFromFloat(min)
		v.maxTotal = decimal.NewFromFloat(max)
	}
}

func WithTolerance(t float64) Option {
	return func(v *Validator) {
		if t >= 0 {
			v.tolerance = decimal.NewFromFloat(t)
		}
	}
}

// WithClock sets the clock used for the future-date rule.
func WithClock(c clockwork.Clock) Option {
	return func(v *Validator) {
		if c != nil {
			v.clock = c
		}
	}
}

// WithLocation sets the zone in which document dates are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(v *Validator) {
		if loc != nil {
			v.location = loc
		}
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{
		docNumber: DefaultDocNumberPattern,
		maxItems:  DefaultMaxItems,
		minTotal:  decimal.NewFromFloat(DefaultMinTotal),
		maxTotal:  decimal.NewFromFloat(DefaultMaxTotal),
		tolerance: decimal.NewFromFloat(DefaultTolerance),
		clock:     clockwork.NewRealClock(),
		location:  model.RegistryLocation,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValidator = New()

// Validate checks doc with default settings.
func Validate(doc *model.Document) Result {
	return defaultValidator.Validate(doc)
}

// collector accumulates failures for one run.
type collector struct {
	errs Errors
}

func (c *collector) add(field, code, format string, args ...any) {
	c.errs = append(c.errs, FieldError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate runs every rule against doc and returns all failures.
func (v *Validator) Validate(doc *model.Document) Result {
	if doc == nil {
		return Result{Errors: Errors{{Field: "document", Code: CodeRequired, Message: "document is required"}}}
	}

	c := &collector{}
	v.transaction(c, doc)
	v.identity(c, doc)

	exportBuyer := model.IsExport(doc.Transaction.SupplyType)
	v.party(c, "SellerDtls", doc.Seller, false)
	v.party(c, "BuyerDtls", doc.Buyer, exportBuyer)

	v.items(c, doc.Items)
	v.values(c, doc)

	if exportBuyer && doc.Export == nil {
		c.add("ExpDtls", CodeMissingExportDetails, "export details are required for supply type %s", doc.Transaction.SupplyType)
	}

	return Result{Valid: len(c.errs) == 0, Errors: c.errs}
}

// LookupKey checks the document type, number and date used to look a registration up.
func (v *Validator) LookupKey(docType, number, date string) Errors {
	c := &collector{}
	v.identity(c, &model.Document{Doc: model.DocumentDetails{Type: docType, Number: number, Date: date}})
	return c.errs
}

func (v *Validator) transaction(c *collector, doc *model.Document) {
	tr := doc.Transaction
	if tr.TaxScheme != model.TaxSchemeGST {
		c.add("TranDtls.TaxSch", CodeInvalidTaxScheme, "tax scheme must be %s", model.TaxSchemeGST)
	}
	if !in(supplyTypes, tr.SupplyType) {
		c.add("TranDtls.SupTyp", CodeInvalidSupplyType, "unknown supply type %q", tr.SupplyType)
	}
	if !validFlag(tr.RegRev) {
		c.add("TranDtls.RegRev", CodeInvalidFlag, "flag must be Y or N")
	}
	if !validFlag(tr.IgstOnIntra) {
		c.add("TranDtls.IgstOnIntra", CodeInvalidFlag, "flag must be Y or N")
	}
	if tr.IGSTOnIntra() {
		seller, buyer := region(doc.Seller), region(doc.Buyer)
		if seller != "" && buyer != "" && seller != buyer {
			c.add("TranDtls.IgstOnIntra", CodeInvalidIgstIntra,
				"IGST on intra-state supply requires seller and buyer in the same region, got %s and %s", seller, buyer)
		}
	}
}

// region is the party's region code; unregistered buyers carry it in the state code only.
func region(p model.Party) string {
	if p.Gstin == model.UnregisteredPerson {
		return p.StateCode
	}
	return p.RegionCode()
}

func (v *Validator) identity(c *collector, doc *model.Document) {
	d := doc.Doc
	if !in(documentTypes, d.Type) {
		c.add("DocDtls.Typ", CodeInvalidDocType, "unknown document type %q", d.Type)
	}
	if !v.docNumber.MatchString(d.Number) {
		c.add("DocDtls.No", CodeInvalidDocNumber, "document number %q does not match %s", d.Number, v.docNumber)
	}

	if !datePattern.MatchString(d.Date) {
		c.add("DocDtls.Dt", CodeInvalidDocDate, "document date must be dd/mm/yyyy")
		return
	}
	date, err := time.ParseInLocation("02/01/2006", d.Date, v.location)
	if err != nil {
		c.add("DocDtls.Dt", CodeInvalidDocDate, "document date %s is not a calendar date", d.Date)
		return
	}
	y, m, day := v.clock.Now().In(v.location).Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, v.location)
	if date.After(today) {
		c.add("DocDtls.Dt", CodeFutureDocDate, "document date %s is in the future", d.Date)
	}
}

func (v *Validator) party(c *collector, prefix string, p model.Party, exportBuyer bool) {
	unregistered := exportBuyer && p.Gstin == model.UnregisteredPerson

	if !unregistered {
		if !gstinPattern.MatchString(p.Gstin) {
			c.add(prefix+".Gstin", CodeInvalidGstin, "invalid tax identifier %q", p.Gstin)
		}
		if len(p.Gstin) == 15 && !panPattern.MatchString(p.Gstin[2:12]) {
			c.add(prefix+".Gstin", CodeInvalidPan, "embedded PAN %q is invalid", p.Gstin[2:12])
		}
	}

	if blank(p.LegalName) {
		c.add(prefix+".LglNm", CodeMissingLegalName, "legal name is required")
	}
	if !pinPattern.MatchString(strconv.Itoa(p.Pin)) {
		c.add(prefix+".Pin", CodeInvalidPincode, "pincode %d is not a 6 digit code", p.Pin)
	}

	switch {
	case !in(stateCodes, p.StateCode):
		c.add(prefix+".Stcd", CodeInvalidStateCode, "unknown state code %q", p.StateCode)
	case unregistered:
		if p.StateCode != "96" {
			c.add(prefix+".Stcd", CodeStateCodeMismatch, "unregistered foreign buyer must use state code 96")
		}
	case len(p.Gstin) >= 2 && p.StateCode != p.Gstin[:2]:
		c.add(prefix+".Stcd", CodeStateCodeMismatch, "state code %s does not match tax identifier region %s", p.StateCode, p.Gstin[:2])
	}

	if p.Email != "" && !emailPattern.MatchString(p.Email) {
		c.add(prefix+".Em", CodeInvalidEmail, "invalid email %q", p.Email)
	}
	if p.Phone != "" && !phonePattern.MatchString(p.Phone) {
		c.add(prefix+".Ph", CodeInvalidPhone, "phone must have 6 to 12 digits")
	}
}

func (v *Validator) items(c *collector, items []model.Item) {
	if len(items) == 0 {
		c.add("ItemList", CodeNoItems, "at least one item is required")
		return
	}
	if len(items) > v.maxItems {
		c.add("ItemList", CodeTooManyItems, "document has %d items, at most %d allowed", len(items), v.maxItems)
	}

	for i, it := range items {
		prefix := fmt.Sprintf("ItemList[%d]", i)
		if !hsnPattern.MatchString(it.HsnCode) {
			c.add(prefix+".HsnCd", CodeInvalidHsn, "HSN code %q must have 4, 6 or 8 digits", it.HsnCode)
		}
		if !AllowedRate(it.GstRate) {
			c.add(prefix+".GstRt", CodeInvalidGstRate, "tax rate %v is not allowed", it.GstRate)
		}
		if it.Quantity <= 0 {
			c.add(prefix+".Qty", CodeInvalidQuantity, "quantity must be positive")
		}
		if it.TotalValue <= 0 {
			c.add(prefix+".TotItemVal", CodeInvalidItemTotal, "line total must be positive")
		}

		computed := sum(it.AssAmount, it.IgstAmount, it.CgstAmount, it.SgstAmount, it.CessAmount, it.OtherCharge)
		if !v.within(computed, decimal.NewFromFloat(it.TotalValue)) {
			c.add(prefix+".TotItemVal", CodeItemTotalMismatch,
				"line total %v differs from computed %s", it.TotalValue, computed.StringFixed(2))
		}
	}
}

func (v *Validator) values(c *collector, doc *model.Document) {
	vals := doc.Values
	total := decimal.NewFromFloat(vals.TotalValue)

	if total.LessThan(v.minTotal) || total.GreaterThan(v.maxTotal) {
		c.add("ValDtls.TotInvVal", CodeInvalidTotalAmount, "grand total %s outside [%s, %s]",
			total.StringFixed(2), v.minTotal.StringFixed(2), v.maxTotal.StringFixed(2))
	}
	if len(doc.Items) == 0 {
		return
	}

	lines := decimal.Zero
	assessable := decimal.Zero
	for _, it := range doc.Items {
		lines = lines.Add(decimal.NewFromFloat(it.TotalValue))
		assessable = assessable.Add(decimal.NewFromFloat(it.AssAmount))
	}

	computed := lines.
		Add(decimal.NewFromFloat(vals.OtherCharge)).
		Add(decimal.NewFromFloat(vals.RoundOff)).
		Sub(decimal.NewFromFloat(vals.Discount))
	if !v.within(computed, total) {
		c.add("ValDtls.TotInvVal", CodeTotalMismatch, "grand total %s differs from computed %s",
			total.StringFixed(2), computed.StringFixed(2))
	}
	if !v.within(assessable, decimal.NewFromFloat(vals.AssValue)) {
		c.add("ValDtls.AssVal", CodeAssessableMismatch, "assessable value %v differs from line sum %s",
			vals.AssValue, assessable.StringFixed(2))
	}
}

func (v *Validator) within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(v.tolerance)
}

func sum(values ...float64) decimal.Decimal {
	s := decimal.Zero
	for _, f := range values {
		s = s.Add(decimal.NewFromFloat(f))
	}
	return s
}
