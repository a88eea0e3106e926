// Package qr builds the verification payload printed on a registered invoice
// and reads the payload the Registry signs into signedQrCode.
package qr

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "irp.qr")

var (
	ErrNoRecord     = errors.New("registration record is missing an IRN")
	ErrNoDocument   = errors.New("document is nil")
	ErrMalformedJWT = errors.New("signed QR code is not a three part token")
)

// Payload is the QR-encodable subset of a registered document.
type Payload struct {
	SellerGstin string          `json:"SellerGstin"`
	BuyerGstin  string          `json:"BuyerGstin"`
	DocNo       string          `json:"DocNo"`
	DocTyp      string          `json:"DocTyp"`
	DocDt       string          `json:"DocDt"`
	TotInvVal   decimal.Decimal `json:"TotInvVal"`
	ItemCnt     int             `json:"ItemCnt"`
	MainHsnCode string          `json:"MainHsnCode"`
	Irn         string          `json:"Irn"`
	AckNo       int64           `json:"AckNo"`
	IrnDt       string          `json:"IrnDt"`
}

// NewPayload packages rec and doc. The main HSN code is the first line's.
func NewPayload(rec *model.RegistrationRecord, doc *model.Document) (*Payload, error) {
	if rec == nil || rec.IRN == "" {
		return nil, ErrNoRecord
	}
	if doc == nil {
		return nil, ErrNoDocument
	}
	p := &Payload{
		SellerGstin: doc.Seller.Gstin,
		BuyerGstin:  doc.Buyer.Gstin,
		DocNo:       doc.Doc.Number,
		DocTyp:      doc.Doc.Type,
		DocDt:       doc.Doc.Date,
		TotInvVal:   decimal.NewFromFloat(doc.Values.TotalValue).Round(2),
		ItemCnt:     len(doc.Items),
		Irn:         rec.IRN,
		AckNo:       rec.AckNo,
	}
	if len(doc.Items) > 0 {
		p.MainHsnCode = doc.Items[0].HsnCode
	}
	if !rec.AckDate.IsZero() {
		p.IrnDt = model.FormatAckTime(rec.AckDate)
	}
	return p, nil
}

// MarshalJSON writes the total as a JSON number with two decimals.
func (p Payload) MarshalJSON() ([]byte, error) {
	type plain Payload
	return json.Marshal(struct {
		plain
		TotInvVal json.Number `json:"TotInvVal"`
	}{plain: plain(p), TotInvVal: json.Number(p.TotInvVal.StringFixed(2))})
}

// Encode returns the compact JSON string handed to the QR renderer.
func (p *Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "encode qr payload")
	}
	return string(b), nil
}

// Diff lists the JSON names of fields whose values differ.
func (p *Payload) Diff(other *Payload) []string {
	var out []string
	add := func(name string, same bool) {
		if !same {
			out = append(out, name)
		}
	}
	add("SellerGstin", p.SellerGstin == other.SellerGstin)
	add("BuyerGstin", p.BuyerGstin == other.BuyerGstin)
	add("DocNo", p.DocNo == other.DocNo)
	add("DocTyp", p.DocTyp == other.DocTyp)
	add("DocDt", p.DocDt == other.DocDt)
	add("TotInvVal", p.TotInvVal.Equal(other.TotInvVal))
	add("ItemCnt", p.ItemCnt == other.ItemCnt)
	add("MainHsnCode", p.MainHsnCode == other.MainHsnCode)
	add("Irn", p.Irn == other.Irn)
	add("AckNo", p.AckNo == other.AckNo)
	add("IrnDt", p.IrnDt == other.IrnDt)
	return out
}

// DecodeSignedQR reads the payload out of the Registry's signedQrCode.
// The signature is not verified.
func DecodeSignedQR(token string) (*Payload, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrMalformedJWT
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, errors.Wrap(err, "decode signed qr claims")
	}

	var claims struct {
		Data json.RawMessage `json:"data"`
		Iss  string          `json:"iss"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, errors.Wrap(err, "parse signed qr claims")
	}
	if len(claims.Data) == 0 {
		return nil, errors.New("signed qr claims have no data")
	}

	data := []byte(claims.Data)
	// the Registry sends data as a JSON encoded string
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrap(err, "unquote signed qr data")
		}
		data = []byte(s)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "parse signed qr data")
	}
	logger.Debugf("decoded signed qr for irn %s issued by %q", p.Irn, claims.Iss)
	return &p, nil
}
