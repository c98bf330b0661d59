package invoice

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<tns:Faktura xmlns:tns="http://crd.gov.pl/wzor/2025/06/25/13775/">
  <tns:Naglowek>
    <tns:KodFormularza kodSystemowy="FA (3)" wersjaSchemy="1-0E">FA</tns:KodFormularza>
  </tns:Naglowek>
  <tns:Podmiot1>
    <tns:DaneIdentyfikacyjne>
      <tns:NIP>5265877635</tns:NIP>
      <tns:Nazwa>ACME Sp. z o.o.</tns:Nazwa>
    </tns:DaneIdentyfikacyjne>
  </tns:Podmiot1>
  <tns:Fa>
    <tns:KodWaluty>PLN</tns:KodWaluty>
    <tns:P_1>2025-03-01</tns:P_1>
    <tns:P_2>FV/7/2025</tns:P_2>
    <tns:P_15>1230.50</tns:P_15>
  </tns:Fa>
</tns:Faktura>`

func TestParseMeta(t *testing.T) {
	meta, err := ParseMeta([]byte(sampleInvoice))
	require.NoError(t, err)

	assert.Equal(t, "5265877635", meta.SellerID)
	assert.Equal(t, "01-03-2025", meta.IssueDate)
	assert.Equal(t, "FV/7/2025", meta.InvoiceNumber)
	assert.True(t, decimal.RequireFromString("1230.5").Equal(meta.GrossAmount))
	assert.Equal(t, Hash([]byte(sampleInvoice)), meta.HashBase64URL)
	assert.Empty(t, meta.VerificationURL)
}

func TestParseMeta_UnprefixedDocument(t *testing.T) {
	doc := `<Faktura xmlns="http://crd.gov.pl/wzor/2025/06/25/13775/"><Podmiot1><DaneIdentyfikacyjne><NIP>5265877635</NIP></DaneIdentyfikacyjne></Podmiot1><Fa><P_1>2024-12-31</P_1></Fa></Faktura>`
	meta, err := ParseMeta([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "31-12-2024", meta.IssueDate)
	assert.True(t, meta.GrossAmount.IsZero())
}

func TestParseMeta_PartialDocument(t *testing.T) {
	meta, err := ParseMeta([]byte("not xml"))
	assert.Error(t, err)
	assert.Equal(t, Hash([]byte("not xml")), meta.HashBase64URL)

	meta, err = ParseMeta([]byte(`<Faktura><Fa><P_1>01.03.2025</P_1></Fa></Faktura>`))
	assert.Error(t, err)
	assert.Empty(t, meta.SellerID)
	assert.Empty(t, meta.IssueDate)
}

func TestHash_IsUnpaddedBase64URL(t *testing.T) {
	assert.Equal(t, "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0", Hash([]byte("abc")))
}

func TestVerificationURL(t *testing.T) {
	assert.Equal(t,
		"https://qr-test.ksef.mf.gov.pl/invoice/5265877635/01-03-2025/abc",
		VerificationURL("https://qr-test.ksef.mf.gov.pl/", "5265877635", "01-03-2025", "abc"))

	meta, err := ParseMeta([]byte(sampleInvoice))
	require.NoError(t, err)
	meta = meta.WithVerificationURL("https://qr.ksef.mf.gov.pl")
	assert.Equal(t, "https://qr.ksef.mf.gov.pl/invoice/5265877635/01-03-2025/"+meta.HashBase64URL, meta.VerificationURL)

	assert.Empty(t, Meta{HashBase64URL: "x"}.WithVerificationURL("https://qr.ksef.mf.gov.pl").VerificationURL)
}

func TestRenderQR(t *testing.T) {
	png, err := RenderQR("https://qr.ksef.mf.gov.pl/invoice/5265877635/01-03-2025/abc", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	_, err = RenderQR("", 128)
	assert.Error(t, err)
}
