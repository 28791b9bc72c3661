package models

import (
	"encoding/base64"
	"strconv"
	"time"
)

type EscrowStatus string

const (
	EscrowCreated   EscrowStatus = "CREATED"
	EscrowFunded    EscrowStatus = "FUNDED"
	EscrowReleased  EscrowStatus = "RELEASED"
	EscrowCancelled EscrowStatus = "CANCELLED"
	EscrowDisputed  EscrowStatus = "DISPUTED"
)

type Escrow struct {
	TradeID                 int64        `json:"trade_id"`
	EscrowAddress           string       `json:"escrow_address"`
	SellerAddress           string       `json:"seller_address"`
	BuyerAddress            string       `json:"buyer_address"`
	TokenType               string       `json:"token_type"`
	Amount                  string       `json:"amount"`
	DepositTimestamp        *time.Time   `json:"deposit_timestamp"`
	Status                  EscrowStatus `json:"status"`
	DisputeID               *int64       `json:"dispute_id"`
	Sequential              bool         `json:"sequential"`
	SequentialEscrowAddress *string      `json:"sequential_escrow_address"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

func (e *Escrow) BaseUnits() (int64, error) {
	return strconv.ParseInt(e.Amount, 10, 64)
}

type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// EscrowInstruction is the unsigned on-chain instruction the backend builds
// for an escrow action. The wallet signs and submits it.
type EscrowInstruction struct {
	Keys      []AccountMeta `json:"keys"`
	ProgramID string        `json:"programId"`
	Data      string        `json:"data"`
}

// DecodeData returns the raw instruction bytes.
func (i *EscrowInstruction) DecodeData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(i.Data)
}

// Signers returns the pubkeys that must sign the instruction.
func (i *EscrowInstruction) Signers() []string {
	var out []string
	for _, k := range i.Keys {
		if k.IsSigner {
			out = append(out, k.Pubkey)
		}
	}
	return out
}

type CreateEscrowRequest struct {
	TradeID                 int64   `json:"trade_id"`
	EscrowID                int64   `json:"escrow_id"`
	Seller                  string  `json:"seller"`
	Buyer                   string  `json:"buyer"`
	Amount                  int64   `json:"amount"`
	Sequential              *bool   `json:"sequential,omitempty"`
	SequentialEscrowAddress *string `json:"sequential_escrow_address,omitempty"`
}

type FundEscrowRequest struct {
	EscrowID           int64  `json:"escrow_id"`
	TradeID            int64  `json:"trade_id"`
	Seller             string `json:"seller"`
	SellerTokenAccount string `json:"seller_token_account"`
	TokenMint          string `json:"token_mint"`
	Amount             int64  `json:"amount"`
}

type ReleaseEscrowRequest struct {
	EscrowID                     int64   `json:"escrow_id"`
	TradeID                      int64   `json:"trade_id"`
	Authority                    string  `json:"authority"`
	BuyerTokenAccount            string  `json:"buyer_token_account"`
	ArbitratorTokenAccount       string  `json:"arbitrator_token_account"`
	SequentialEscrowTokenAccount *string `json:"sequential_escrow_token_account,omitempty"`
}

type CancelEscrowRequest struct {
	EscrowID           int64   `json:"escrow_id"`
	TradeID            int64   `json:"trade_id"`
	Seller             string  `json:"seller"`
	Authority          string  `json:"authority"`
	SellerTokenAccount *string `json:"seller_token_account,omitempty"`
}

type DisputeEscrowRequest struct {
	EscrowID                   int64   `json:"escrow_id"`
	TradeID                    int64   `json:"trade_id"`
	DisputingParty             string  `json:"disputing_party"`
	DisputingPartyTokenAccount string  `json:"disputing_party_token_account"`
	EvidenceHash               *string `json:"evidence_hash,omitempty"`
}

type DisputeStatus string

const (
	DisputeOpened    DisputeStatus = "OPENED"
	DisputeResponded DisputeStatus = "RESPONDED"
	DisputeResolved  DisputeStatus = "RESOLVED"
	DisputeDefaulted DisputeStatus = "DEFAULTED"
)

// Dispute is read-only from the client's side.
type Dispute struct {
	ID                    int64         `json:"id"`
	TradeID               int64         `json:"trade_id"`
	EscrowAddress         string        `json:"escrow_address"`
	InitiatorAddress      string        `json:"initiator_address"`
	InitiatorEvidenceHash *string       `json:"initiator_evidence_hash"`
	ResponderAddress      *string       `json:"responder_address"`
	ResponderEvidenceHash *string       `json:"responder_evidence_hash"`
	ResolutionHash        *string       `json:"resolution_hash"`
	BondAmount            string        `json:"bond_amount"`
	Status                DisputeStatus `json:"status"`
	InitiatedAt           time.Time     `json:"initiated_at"`
	RespondedAt           *time.Time    `json:"responded_at"`
	ResolvedAt            *time.Time    `json:"resolved_at"`
	WinnerAddress         *string       `json:"winner_address"`
}
