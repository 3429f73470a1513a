package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Transfer struct {
	Wallet string          `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
}

// Settlement is one on-chain batch for a single merchant and denomination.
type Settlement struct {
	BatchID      string       `json:"batchId"`
	MerchantID   snowflake.ID `json:"merchantId"`
	Denomination string       `json:"denomination"`
	Transfers    []Transfer   `json:"transfers"`
	Attestation  string       `json:"attestation"`
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Relayer submits settlements on chain and reports their receipts.
type Relayer interface {
	Submit(ctx context.Context, settlement Settlement) (string, error)
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}
