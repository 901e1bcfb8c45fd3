package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testReceiving = common.HexToAddress("0x140591903f35375AA78B01272882C2De3AeFE21c")
	testContract  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testOther     = common.HexToAddress("0x0000000000000000000000000000000000000Bad")
)

// transferInput builds transfer(recipient, amount) calldata as a hex string.
func transferInput(t *testing.T, recipient common.Address, amount *big.Int) string {
	t.Helper()
	packed, err := transferMethod.Inputs.Pack(recipient, amount)
	if err != nil {
		t.Fatalf("pack transfer input: %v", err)
	}
	return "0x" + common.Bytes2Hex(append(append([]byte{}, transferMethod.ID...), packed...))
}

// usdc scales a whole USDC amount to 6-decimal token units.
func usdc(amount int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), big.NewInt(1_000_000))
}

// fakeExplorer serves the proxy API for a fixed set of transactions.
type fakeExplorer struct {
	txs       map[string]proxyTransaction
	blockTime map[string]time.Time
	fail      bool
	hits      int
}

func (f *fakeExplorer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.hits++
		if f.fail {
			http.Error(w, "explorer down", http.StatusInternalServerError)
			return
		}
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionByHash":
			tx, ok := f.txs[r.URL.Query().Get("txhash")]
			if !ok {
				fmt.Fprint(w, `{"result":null}`)
				return
			}
			result, _ := json.Marshal(tx)
			fmt.Fprintf(w, `{"result":%s}`, result)
		case "eth_getBlockByNumber":
			bt, ok := f.blockTime[r.URL.Query().Get("tag")]
			if !ok {
				fmt.Fprint(w, `{"result":null}`)
				return
			}
			fmt.Fprintf(w, `{"result":{"timestamp":"0x%x"}}`, bt.Unix())
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
		}
	}
}

func newTestVerifier(t *testing.T, now time.Time, explorers ...*fakeExplorer) *Verifier {
	t.Helper()
	networks := make([]Network, 0, len(explorers))
	for i, f := range explorers {
		srv := httptest.NewServer(f.handler())
		t.Cleanup(srv.Close)
		networks = append(networks, Network{
			Name:          fmt.Sprintf("net%d", i),
			ExplorerURL:   srv.URL,
			TokenContract: testContract,
			TokenDecimals: 6,
		})
	}
	return NewVerifier(testReceiving, networks,
		WithClock(func() time.Time { return now }),
	)
}

func paidTx(t *testing.T, recipient common.Address, amount *big.Int) proxyTransaction {
	t.Helper()
	return proxyTransaction{
		Hash:        "0xabc",
		To:          testContract.Hex(),
		Input:       transferInput(t, recipient, amount),
		BlockNumber: "0x10",
	}
}

func TestVerifySuccess(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ex := &fakeExplorer{
		txs:       map[string]proxyTransaction{"0xabc": paidTx(t, testReceiving, usdc(10))},
		blockTime: map[string]time.Time{"0x10": now.Add(-2 * time.Minute)},
	}
	v := newTestVerifier(t, now, ex)

	verdict, err := v.Verify(context.Background(), "0xabc", 10)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !verdict.OK || verdict.Reason != ReasonSuccess {
		t.Fatalf("verdict: %+v", verdict)
	}
	if verdict.Amount != 10 {
		t.Errorf("amount: got %v, want 10", verdict.Amount)
	}
}

func TestVerifyFirstMatchWins(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tx := paidTx(t, testReceiving, usdc(10))
	first := &fakeExplorer{
		txs:       map[string]proxyTransaction{"0xabc": tx},
		blockTime: map[string]time.Time{"0x10": now.Add(-time.Minute)},
	}
	second := &fakeExplorer{
		txs:       map[string]proxyTransaction{"0xabc": tx},
		blockTime: map[string]time.Time{"0x10": now.Add(-time.Minute)},
	}
	v := newTestVerifier(t, now, first, second)

	verdict, err := v.Verify(context.Background(), "0xabc", 10)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verdict.Network != "net0" {
		t.Errorf("network: got %s, want net0", verdict.Network)
	}
	if second.hits != 0 {
		t.Errorf("second network consulted %d times, want 0", second.hits)
	}
}

func TestVerifyContinuesPastFailingNetwork(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	broken := &fakeExplorer{fail: true}
	working := &fakeExplorer{
		txs:       map[string]proxyTransaction{"0xabc": paidTx(t, testReceiving, usdc(10))},
		blockTime: map[string]time.Time{"0x10": now.Add(-time.Minute)},
	}
	v := newTestVerifier(t, now, broken, working)

	verdict, err := v.Verify(context.Background(), "0xabc", 10)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !verdict.OK || verdict.Network != "net1" {
		t.Fatalf("verdict: %+v", verdict)
	}
}

func TestVerifyNotFoundAnywhere(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, now, &fakeExplorer{}, &fakeExplorer{})

	verdict, err := v.Verify(context.Background(), "0xmissing", 10)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verdict.OK || verdict.Reason != ReasonNotFound {
		t.Fatalf("verdict: %+v", verdict)
	}
}

func TestVerifyStaleness(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		age        time.Duration
		wantOK     bool
		wantReason Reason
	}{
		{"exactly at window", DefaultStaleness, true, ReasonSuccess},
		{"one second past", DefaultStaleness + time.Second, false, ReasonStale},
		{"fresh", time.Minute, true, ReasonSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExplorer{
				txs:       map[string]proxyTransaction{"0xabc": paidTx(t, testReceiving, usdc(10))},
				blockTime: map[string]time.Time{"0x10": now.Add(-tt.age)},
			}
			v := newTestVerifier(t, now, ex)

			verdict, err := v.Verify(context.Background(), "0xabc", 10)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if verdict.OK != tt.wantOK || verdict.Reason != tt.wantReason {
				t.Errorf("verdict: %+v, want ok=%v reason=%s", verdict, tt.wantOK, tt.wantReason)
			}
		})
	}
}

func TestVerifyWrongRecipient(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ex := &fakeExplorer{
		txs:       map[string]proxyTransaction{"0xabc": paidTx(t, testOther, usdc(10))},
		blockTime: map[string]time.Time{"0x10": now.Add(-time.Minute)},
	}
	v := newTestVerifier(t, now, ex)

	verdict, err := v.Verify(context.Background(), "0xabc", 10)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verdict.OK || verdict.Reason != ReasonWrongRecipient {
		t.Fatalf("verdict: %+v", verdict)
	}
	if verdict.Recipient != testOther.Hex() {
		t.Errorf("recipient: got %s, want %s", verdict.Recipient, testOther.Hex())
	}
}

func TestVerifyUnderpaidReportsShortfall(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ex := &fakeExplorer{
		txs:       map[string]proxyTransaction{"0xabc": paidTx(t, testReceiving, usdc(8))},
		blockTime: map[string]time.Time{"0x10": now.Add(-time.Minute)},
	}
	v := newTestVerifier(t, now, ex)

	verdict, err := v.Verify(context.Background(), "0xabc", 10)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verdict.OK || verdict.Reason != ReasonUnderpaid {
		t.Fatalf("verdict: %+v", verdict)
	}
	if verdict.Shortfall != 2 {
		t.Errorf("shortfall: got %v, want 2", verdict.Shortfall)
	}
}

func TestVerifyRejectsNonTokenTransfer(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tx   proxyTransaction
	}{
		{"wrong contract", proxyTransaction{
			Hash:        "0xabc",
			To:          testOther.Hex(),
			Input:       transferInput(t, testReceiving, usdc(10)),
			BlockNumber: "0x10",
		}},
		{"plain eth send", proxyTransaction{
			Hash:        "0xabc",
			To:          testContract.Hex(),
			Input:       "0x",
			BlockNumber: "0x10",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExplorer{
				txs:       map[string]proxyTransaction{"0xabc": tt.tx},
				blockTime: map[string]time.Time{"0x10": now.Add(-time.Minute)},
			}
			v := newTestVerifier(t, now, ex)

			verdict, err := v.Verify(context.Background(), "0xabc", 10)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if verdict.OK || verdict.Reason != ReasonNotTokenTransfer {
				t.Fatalf("verdict: %+v", verdict)
			}
		})
	}
}

func TestDecodeTransfer(t *testing.T) {
	input := common.FromHex(transferInput(t, testReceiving, usdc(25)))

	recipient, amount, err := decodeTransfer(input)
	if err != nil {
		t.Fatalf("decodeTransfer failed: %v", err)
	}
	if recipient != testReceiving {
		t.Errorf("recipient: got %s, want %s", recipient.Hex(), testReceiving.Hex())
	}
	if amount.Cmp(usdc(25)) != 0 {
		t.Errorf("amount: got %s, want %s", amount, usdc(25))
	}
}

func TestDecodeTransferRejectsOtherSelectors(t *testing.T) {
	// approve(address,uint256) selector
	input := append(common.FromHex("0x095ea7b3"), make([]byte, 64)...)
	if _, _, err := decodeTransfer(input); err == nil {
		t.Fatal("expected selector mismatch error")
	}
}

func TestScaleAmount(t *testing.T) {
	tests := []struct {
		units    *big.Int
		decimals int
		want     float64
	}{
		{usdc(10), 6, 10},
		{big.NewInt(5_500_000), 6, 5.5},
		{big.NewInt(1), 6, 0.000001},
		{big.NewInt(0), 6, 0},
	}
	for _, tt := range tests {
		if got := scaleAmount(tt.units, tt.decimals); got != tt.want {
			t.Errorf("scaleAmount(%s, %d) = %v, want %v", tt.units, tt.decimals, got, tt.want)
		}
	}
}
