package broker

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// The wire stays loosely typed (maps and json.Number); everything leaving this
// package is a typed struct with decimal prices.

// envelope is the minimal shape shared by every broker response.
type envelope struct {
	MsgType string     `json:"msg_type"`
	ReqID   int64      `json:"req_id"`
	Error   *wireError `json:"error"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Account is the authorized session's identity.
type Account struct {
	LoginID  string
	Email    string
	Currency string
	Balance  decimal.Decimal
}

type wireAuthorize struct {
	Authorize struct {
		LoginID  string      `json:"loginid"`
		Email    string      `json:"email"`
		Currency string      `json:"currency"`
		Balance  json.Number `json:"balance"`
	} `json:"authorize"`
}

type wireCandles struct {
	Candles []struct {
		Epoch int64       `json:"epoch"`
		Open  json.Number `json:"open"`
		High  json.Number `json:"high"`
		Low   json.Number `json:"low"`
		Close json.Number `json:"close"`
	} `json:"candles"`
}

// ContractInfo is one entry of the contracts_for catalogue.
type ContractInfo struct {
	ContractType     string
	ContractCategory string
}

type wireContractsFor struct {
	ContractsFor struct {
		Available []struct {
			ContractType     string `json:"contract_type"`
			ContractCategory string `json:"contract_category"`
		} `json:"available"`
	} `json:"contracts_for"`
}

// ProposalSpec describes a multiplier contract to price.
type ProposalSpec struct {
	ContractType string // MULTUP or MULTDOWN
	Symbol       string
	Currency     string
	Amount       decimal.Decimal
	Multiplier   decimal.Decimal
	TakeProfit   decimal.Decimal
	StopLoss     decimal.Decimal
}

// ProposalResult is the broker's priced proposal.
type ProposalResult struct {
	ID       string
	AskPrice decimal.Decimal
}

type wireProposal struct {
	Proposal struct {
		ID       string      `json:"id"`
		AskPrice json.Number `json:"ask_price"`
	} `json:"proposal"`
}

type wireBuy struct {
	Buy struct {
		ContractID int64       `json:"contract_id"`
		BuyPrice   json.Number `json:"buy_price"`
	} `json:"buy"`
}

type wireSell struct {
	Sell struct {
		SoldFor json.Number `json:"sold_for"`
	} `json:"sell"`
}

// ContractState is a snapshot of an open (or settled) contract.
type ContractState struct {
	Status      string
	IsSold      bool
	BuyPrice    decimal.Decimal
	SellPrice   decimal.Decimal
	Profit      decimal.Decimal
	SellTime    time.Time
	EntrySpot   decimal.Decimal
	CurrentSpot decimal.Decimal
}

// Settled reports whether the contract has reached terminal state.
func (s *ContractState) Settled() bool {
	return s.IsSold || s.Status == "sold"
}

type wireOpenContract struct {
	ProposalOpenContract struct {
		Status      string      `json:"status"`
		IsSold      int         `json:"is_sold"`
		BuyPrice    json.Number `json:"buy_price"`
		SellPrice   json.Number `json:"sell_price"`
		Profit      json.Number `json:"profit"`
		SellTime    int64       `json:"sell_time"`
		EntrySpot   json.Number `json:"entry_spot"`
		CurrentSpot json.Number `json:"current_spot"`
	} `json:"proposal_open_contract"`
}

type wireBalance struct {
	Balance struct {
		Balance  json.Number `json:"balance"`
		Currency string      `json:"currency"`
	} `json:"balance"`
}

// ProfitTableFilter bounds a profit_table request.
type ProfitTableFilter struct {
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
	Sort     string // ASC or DESC
}

// ProfitTransaction is one settled contract from the profit table.
type ProfitTransaction struct {
	ContractID   int64
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	PurchaseTime time.Time
	SellTime     time.Time
}

// Profit is the realized P/L of the transaction.
func (t ProfitTransaction) Profit() decimal.Decimal {
	return t.SellPrice.Sub(t.BuyPrice)
}

// ProfitTable is the broker-side trade history slice.
type ProfitTable struct {
	Count        int
	Transactions []ProfitTransaction
}

type wireProfitTable struct {
	ProfitTable struct {
		Count        int `json:"count"`
		Transactions []struct {
			ContractID   int64       `json:"contract_id"`
			BuyPrice     json.Number `json:"buy_price"`
			SellPrice    json.Number `json:"sell_price"`
			PurchaseTime int64       `json:"purchase_time"`
			SellTime     int64       `json:"sell_time"`
		} `json:"transactions"`
	} `json:"profit_table"`
}

// dec converts a wire number to decimal, zero on absence or garbage.
func dec(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
