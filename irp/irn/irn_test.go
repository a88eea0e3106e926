package irn_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/alapierre/go-irp-client/irp/irn"
	"github.com/alapierre/go-irp-client/irp/irptest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func sample() irn.Input {
	return irn.Input{
		SupplyType:     "B2B",
		DocumentType:   "INV",
		DocumentNumber: "INV/2024/0001",
		DocumentDate:   "05/03/2024",
		SellerTaxID:    "29AAGCB1286Q1Z5",
		BuyerTaxID:     "07AAACI1681G1ZM",
		GrandTotal:     decimal.RequireFromString("1180"),
	}
}

func TestCompute_KnownValue(t *testing.T) {
	raw := "B2B|INV|INV/2024/0001|05/03/2024|29AAGCB1286Q1Z5|07AAACI1681G1ZM|1180.00"
	sum := sha256.Sum256([]byte(raw))

	got := irn.Compute(sample())
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
	assert.True(t, irn.Valid(got))
}

func TestCompute_Deterministic(t *testing.T) {
	assert.Equal(t, irn.Compute(sample()), irn.Compute(sample()))
}

func TestCompute_TotalIsNormalized(t *testing.T) {
	a, b, c := sample(), sample(), sample()
	a.GrandTotal = decimal.RequireFromString("100")
	b.GrandTotal = decimal.RequireFromString("100.0")
	c.GrandTotal = decimal.RequireFromString("100.00")
	assert.Equal(t, irn.Compute(a), irn.Compute(b))
	assert.Equal(t, irn.Compute(a), irn.Compute(c))

	c.GrandTotal = decimal.RequireFromString("100.01")
	assert.NotEqual(t, irn.Compute(a), irn.Compute(c))
}

func TestCompute_EveryFieldMatters(t *testing.T) {
	base := irn.Compute(sample())
	mutations := []func(*irn.Input){
		func(in *irn.Input) { in.SupplyType = "SEZWP" },
		func(in *irn.Input) { in.DocumentType = "CRN" },
		func(in *irn.Input) { in.DocumentNumber = "INV/2024/0002" },
		func(in *irn.Input) { in.DocumentDate = "06/03/2024" },
		func(in *irn.Input) { in.SellerTaxID = "29AAGCB1286Q1Z6" },
		func(in *irn.Input) { in.BuyerTaxID = "07AAACI1681G1ZN" },
	}
	for i, mutate := range mutations {
		in := sample()
		mutate(&in)
		assert.NotEqual(t, base, irn.Compute(in), "mutation %d", i)
	}
}

func TestCompute_SeparatorCannotAlias(t *testing.T) {
	a, b := sample(), sample()
	a.DocumentType = "INV|X"
	a.DocumentNumber = "1"
	b.DocumentType = "INV"
	b.DocumentNumber = "X|1"
	assert.NotEqual(t, irn.Compute(a), irn.Compute(b))

	a.DocumentType = `INV\`
	a.DocumentNumber = "1"
	b.DocumentType = "INV"
	b.DocumentNumber = `\1`
	assert.NotEqual(t, irn.Compute(a), irn.Compute(b))
}

func TestForDocument_PlainJoinForValidDocuments(t *testing.T) {
	in := irn.InputFromDocument(irptest.SampleDocument())
	raw := strings.Join([]string{
		in.SupplyType,
		in.DocumentType,
		in.DocumentNumber,
		in.DocumentDate,
		in.SellerTaxID,
		in.BuyerTaxID,
		in.GrandTotal.StringFixed(2),
	}, "|")
	sum := sha256.Sum256([]byte(raw))

	assert.Equal(t, hex.EncodeToString(sum[:]), irn.ForDocument(irptest.SampleDocument()))
}

func TestForDocument(t *testing.T) {
	assert.Equal(t, irn.Compute(sample()), irn.ForDocument(irptest.SampleDocument()))
}

func TestValid(t *testing.T) {
	assert.False(t, irn.Valid(""))
	assert.False(t, irn.Valid("ABC"))
	assert.False(t, irn.Valid("A3B2F1C4D5E6F708A9B0C1D2E3F4A5B6C7D8E9F0A1B2C3D4E5F6A7B8C9D0E1F2"))
	assert.True(t, irn.Valid("a3b2f1c4d5e6f708a9b0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f6a7b8c9d0e1f2"))
}
