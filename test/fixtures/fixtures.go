package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/services"
	"github.com/nimasrn/deposit-gateway/internal/verifier"
	"github.com/shopspring/decimal"
)

var (
	Merchant = services.ReceiverIdentity{
		NameTH:      "บจก. ทองดี",
		NameEN:      "THONGDEE CO LTD",
		AccountType: "BANKAC",
		Account:     "123-4-56789-0",
	}

	OtherAccount = services.ReceiverIdentity{
		NameTH:      "นาย อื่น",
		NameEN:      "MR OTHER",
		AccountType: "BANKAC",
		Account:     "999-9-99999-9",
	}

	// ICT is Asia/Bangkok without relying on the tz database.
	ICT = time.FixedZone("ICT", 7*60*60)
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// PNG returns size bytes that sniff as image/png.
func PNG(size int) []byte {
	if size < len(pngHeader) {
		size = len(pngHeader)
	}
	b := make([]byte, size)
	copy(b, pngHeader)
	return b
}

func NewVerifiedSlip(ref string, amount decimal.Decimal, to services.ReceiverIdentity) *verifier.VerifiedSlip {
	at := time.Date(2026, 3, 10, 4, 55, 0, 0, time.UTC)
	return &verifier.VerifiedSlip{
		TransRef:      ref,
		Amount:        amount,
		TransferredAt: &at,
		Sender: verifier.Account{
			NameTH:      "นาย ทดสอบ",
			NameEN:      "MR TEST",
			AccountType: "BANKAC",
			Account:     "xxx-x-x1234-x",
		},
		Receiver: verifier.Account{
			NameTH:      to.NameTH,
			NameEN:      to.NameEN,
			AccountType: to.AccountType,
			Account:     to.Account,
		},
	}
}

// SlipPayload renders the provider's success body for one transfer.
func SlipPayload(ref string, amount decimal.Decimal, to services.ReceiverIdentity) []byte {
	type name struct {
		TH string `json:"th"`
		EN string `json:"en"`
	}
	type bank struct {
		Type    string `json:"type"`
		Account string `json:"account"`
	}
	type account struct {
		Name name `json:"name"`
		Bank bank `json:"bank"`
	}
	type party struct {
		Account account `json:"account"`
	}

	body := map[string]interface{}{
		"status": 200,
		"data": map[string]interface{}{
			"transRef": ref,
			"date":     "2026-03-10T11:55:00+07:00",
			"amount":   map[string]interface{}{"amount": amount},
			"sender": party{Account: account{
				Name: name{TH: "นาย ทดสอบ", EN: "MR TEST"},
				Bank: bank{Type: "BANKAC", Account: "xxx-x-x1234-x"},
			}},
			"receiver": party{Account: account{
				Name: name{TH: to.NameTH, EN: to.NameEN},
				Bank: bank{Type: to.AccountType, Account: to.Account},
			}},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

// FakeProvider is a slip verification provider that answers each image with
// the payload registered for its size.
type FakeProvider struct {
	Server *httptest.Server

	mu       sync.Mutex
	payloads map[int][]byte
	calls    int
	delay    time.Duration
}

func NewFakeProvider(t *testing.T) *FakeProvider {
	fp := &FakeProvider{payloads: make(map[int][]byte)}
	fp.Server = httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(fp.Server.Close)
	return fp
}

// Register makes the provider answer an image of the given byte size with a
// slip for ref, amount and receiver.
func (fp *FakeProvider) Register(imageSize int, ref string, amount decimal.Decimal, to services.ReceiverIdentity) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.payloads[imageSize] = SlipPayload(ref, amount, to)
}

func (fp *FakeProvider) SetDelay(d time.Duration) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.delay = d
}

func (fp *FakeProvider) Calls() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.calls
}

func (fp *FakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	fp.mu.Lock()
	fp.calls++
	delay := fp.delay
	// the base64 length identifies the image
	var payload []byte
	for n, p := range fp.payloads {
		if (n+2)/3*4 == len(req.Image) {
			payload = p
			break
		}
	}
	fp.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if payload == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"message":"slip_not_found"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}
