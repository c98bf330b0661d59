package mockserver

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// NsUPO is the namespace of the mock's invoice receipts
const NsUPO = "http://ksef.mf.gov.pl/schema/gtw/svc/online/types/2021/10/01/0001"

// buildInvoiceUPO renders the official receipt (UPO) of one invoice.
func buildInvoiceUPO(sess *onlineSession, inv *storedInvoice) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("Potwierdzenie")
	root.CreateAttr("xmlns", NsUPO)

	root.CreateElement("NazwaPodmiotuPrzyjmujacego").SetText("Ministerstwo Finansów (mock)")
	root.CreateElement("NumerReferencyjnySesji").SetText(sess.referenceNumber)

	auth := root.CreateElement("Uwierzytelnienie")
	auth.CreateElement("IdKontekstu").CreateElement("Nip").SetText(sess.owner)

	root.CreateElement("OpisPotwierdzenia").CreateElement("Strona").SetText("1")

	doc1 := root.CreateElement("Dokument")
	doc1.CreateElement("NumerKSeFDokumentu").SetText(inv.ksefNumber)
	doc1.CreateElement("NumerFaktury").SetText(inv.invoiceNumber)
	doc1.CreateElement("NumerReferencyjny").SetText(inv.referenceNumber)
	doc1.CreateElement("SkrotDokumentu").SetText(inv.hash)
	doc1.CreateElement("RozmiarDokumentu").SetText(strconv.FormatInt(inv.size, 10))
	doc1.CreateElement("DataPrzeslaniaDokumentu").SetText(inv.receivedAt.Format(time.RFC3339))
	doc1.CreateElement("DataNadaniaNumeruKSeF").SetText(sess.closedAt.Format(time.RFC3339))
	doc1.CreateElement("TrybWysylki").SetText(sendingMode(inv.offline))

	doc.Indent(2)
	return doc.WriteToBytes()
}

func sendingMode(offline bool) string {
	if offline {
		return "Offline"
	}
	return "Online"
}
