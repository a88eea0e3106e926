package model

// SchemaVersion is the document schema version sent in every generate request.
const SchemaVersion = "1.1"

// Supply types accepted by the Registry.
const (
	SupplyB2B    = "B2B"
	SupplySEZWP  = "SEZWP"  // SEZ with payment
	SupplySEZWOP = "SEZWOP" // SEZ without payment
	SupplyEXPWP  = "EXPWP"  // export with payment
	SupplyEXPWOP = "EXPWOP" // export without payment
	SupplyDEXP   = "DEXP"   // deemed export
)

// Document types.
const (
	DocInvoice    = "INV"
	DocCreditNote = "CRN"
	DocDebitNote  = "DBN"
)

// TaxSchemeGST is the only tax scheme the Registry accepts.
const TaxSchemeGST = "GST"

// UnregisteredPerson is used instead of a tax identifier for foreign buyers.
const UnregisteredPerson = "URP"

// IsExport reports whether supply type denotes an export and requires ExpDtls.
func IsExport(supplyType string) bool {
	return supplyType == SupplyEXPWP || supplyType == SupplyEXPWOP
}

// Document is the invoice in the Registry's canonical JSON shape.
type Document struct {
	Version     string              `json:"Version"`
	Transaction TransactionDetails  `json:"TranDtls"`
	Doc         DocumentDetails     `json:"DocDtls"`
	Seller      Party               `json:"SellerDtls"`
	Buyer       Party               `json:"BuyerDtls"`
	Items       []Item              `json:"ItemList"`
	Values      ValueDetails        `json:"ValDtls"`
	Export      *ExportDetails      `json:"ExpDtls,omitempty"`
	EwayBill    *EwayBillDetails    `json:"EwbDtls,omitempty"`
	Reference   *ReferenceDetails   `json:"RefDtls,omitempty"`
	Dispatch    *DispatchFromDetail `json:"DispDtls,omitempty"`
}

type TransactionDetails struct {
	TaxScheme   string `json:"TaxSch"`
	SupplyType  string `json:"SupTyp"`
	RegRev      string `json:"RegRev,omitempty"` // reverse charge Y/N
	EcmGstin    string `json:"EcmGstin,omitempty"`
	IgstOnIntra string `json:"IgstOnIntra,omitempty"` // Y/N
}

// ReverseCharge reports whether the reverse-charge flag is set.
func (t TransactionDetails) ReverseCharge() bool { return t.RegRev == "Y" }

// IGSTOnIntra reports whether IGST is charged on an intra-state supply.
func (t TransactionDetails) IGSTOnIntra() bool { return t.IgstOnIntra == "Y" }

type DocumentDetails struct {
	Type   string `json:"Typ"`
	Number string `json:"No"`
	Date   string `json:"Dt"` // dd/mm/yyyy
}

// Party describes the seller or the buyer.
type Party struct {
	Gstin         string `json:"Gstin"`
	LegalName     string `json:"LglNm"`
	TradeName     string `json:"TrdNm,omitempty"`
	PlaceOfSupply string `json:"Pos,omitempty"`
	Address1      string `json:"Addr1"`
	Address2      string `json:"Addr2,omitempty"`
	Location      string `json:"Loc"`
	Pin           int    `json:"Pin"`
	StateCode     string `json:"Stcd"`
	Phone         string `json:"Ph,omitempty"`
	Email         string `json:"Em,omitempty"`
}

// RegionCode returns the first two characters of the tax identifier.
func (p Party) RegionCode() string {
	if len(p.Gstin) < 2 {
		return ""
	}
	return p.Gstin[:2]
}

// Item is a single invoice line.
type Item struct {
	SerialNo    string  `json:"SlNo"`
	Description string  `json:"PrdDesc,omitempty"`
	IsService   string  `json:"IsServc"` // Y/N
	HsnCode     string  `json:"HsnCd"`
	Quantity    float64 `json:"Qty"`
	Unit        string  `json:"Unit,omitempty"`
	UnitPrice   float64 `json:"UnitPrice"`
	TotalAmount float64 `json:"TotAmt"`
	Discount    float64 `json:"Discount,omitempty"`
	AssAmount   float64 `json:"AssAmt"`
	GstRate     float64 `json:"GstRt"`
	IgstAmount  float64 `json:"IgstAmt,omitempty"`
	CgstAmount  float64 `json:"CgstAmt,omitempty"`
	SgstAmount  float64 `json:"SgstAmt,omitempty"`
	CessRate    float64 `json:"CesRt,omitempty"`
	CessAmount  float64 `json:"CesAmt,omitempty"`
	OtherCharge float64 `json:"OthChrg,omitempty"`
	TotalValue  float64 `json:"TotItemVal"`
}

// ValueDetails holds aggregate document totals.
type ValueDetails struct {
	AssValue    float64 `json:"AssVal"`
	CgstValue   float64 `json:"CgstVal,omitempty"`
	SgstValue   float64 `json:"SgstVal,omitempty"`
	IgstValue   float64 `json:"IgstVal,omitempty"`
	CessValue   float64 `json:"CesVal,omitempty"`
	Discount    float64 `json:"Discount,omitempty"`
	OtherCharge float64 `json:"OthChrg,omitempty"`
	RoundOff    float64 `json:"RndOffAmt,omitempty"`
	TotalValue  float64 `json:"TotInvVal"`
}

type ExportDetails struct {
	ShippingBillNo   string  `json:"ShipBNo,omitempty"`
	ShippingBillDate string  `json:"ShipBDt,omitempty"`
	Port             string  `json:"Port,omitempty"`
	RefundClaim      string  `json:"RefClm,omitempty"`
	ForeignCurrency  string  `json:"ForCur,omitempty"`
	CountryCode      string  `json:"CntCode,omitempty"`
	ExportDuty       float64 `json:"ExpDuty,omitempty"`
}

type EwayBillDetails struct {
	TransporterID string `json:"TransId,omitempty"`
	TransMode     string `json:"TransMode,omitempty"`
	Distance      int    `json:"Distance"`
	VehicleNo     string `json:"VehNo,omitempty"`
	VehicleType   string `json:"VehType,omitempty"`
}

type ReferenceDetails struct {
	Remarks string `json:"InvRm,omitempty"`
}

type DispatchFromDetail struct {
	Name      string `json:"Nm"`
	Address1  string `json:"Addr1"`
	Location  string `json:"Loc"`
	Pin       int    `json:"Pin"`
	StateCode string `json:"Stcd"`
}
