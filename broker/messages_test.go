package broker

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecodeOpenContract(t *testing.T) {
	raw := []byte(`{
		"msg_type": "proposal_open_contract",
		"req_id": 4,
		"proposal_open_contract": {
			"status": "sold",
			"is_sold": 1,
			"buy_price": "10.00",
			"sell_price": 14.73,
			"profit": 4.73,
			"sell_time": 1772470800,
			"entry_spot": "6821.2301",
			"current_spot": "6830.11"
		}
	}`)
	var resp wireOpenContract
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	state := ContractState{
		Status:    resp.ProposalOpenContract.Status,
		IsSold:    resp.ProposalOpenContract.IsSold == 1,
		SellPrice: dec(resp.ProposalOpenContract.SellPrice),
		Profit:    dec(resp.ProposalOpenContract.Profit),
	}
	if !state.Settled() {
		t.Error("sold contract not settled")
	}
	if !state.Profit.Equal(decimal.RequireFromString("4.73")) {
		t.Errorf("profit = %s, want 4.73", state.Profit)
	}
	if !state.SellPrice.Equal(decimal.RequireFromString("14.73")) {
		t.Errorf("sell price = %s, want 14.73", state.SellPrice)
	}
}

func TestSettled(t *testing.T) {
	open := ContractState{Status: "open"}
	if open.Settled() {
		t.Error("open contract reported settled")
	}
	// Either signal alone settles: some responses carry only one of them.
	if !(&ContractState{Status: "open", IsSold: true}).Settled() {
		t.Error("is_sold alone should settle")
	}
	if !(&ContractState{Status: "sold"}).Settled() {
		t.Error("status sold alone should settle")
	}
}

func TestDecodeErrorEnvelope(t *testing.T) {
	raw := []byte(`{"msg_type":"proposal","req_id":9,"error":{"code":"ContractBuyValidationError","message":"Stake too low."}}`)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "ContractBuyValidationError" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.ReqID != 9 {
		t.Errorf("req_id = %d, want 9", env.ReqID)
	}
}

func TestProfitTransactionProfit(t *testing.T) {
	tx := ProfitTransaction{
		BuyPrice:  decimal.RequireFromString("10"),
		SellPrice: decimal.RequireFromString("7.5"),
	}
	if !tx.Profit().Equal(decimal.RequireFromString("-2.5")) {
		t.Errorf("profit = %s, want -2.5", tx.Profit())
	}
}

func TestDecNumberTolerance(t *testing.T) {
	if !dec("").Equal(decimal.Zero) {
		t.Error("absent number should decode to zero")
	}
	if !dec("1.2345").Equal(decimal.RequireFromString("1.2345")) {
		t.Error("plain number mangled")
	}
}
