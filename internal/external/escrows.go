package external

import (
	"context"
	"net/http"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

// The escrow action endpoints return an unsigned instruction; the backend's
// escrow record only changes once the wallet submits it on-chain.

func (c *BackendClient) CreateEscrow(ctx context.Context, in models.CreateEscrowRequest) (*models.EscrowInstruction, error) {
	return c.escrowAction(ctx, "/escrows/create", in)
}

func (c *BackendClient) FundEscrow(ctx context.Context, in models.FundEscrowRequest) (*models.EscrowInstruction, error) {
	return c.escrowAction(ctx, "/escrows/fund", in)
}

func (c *BackendClient) ReleaseEscrow(ctx context.Context, in models.ReleaseEscrowRequest) (*models.EscrowInstruction, error) {
	return c.escrowAction(ctx, "/escrows/release", in)
}

func (c *BackendClient) CancelEscrow(ctx context.Context, in models.CancelEscrowRequest) (*models.EscrowInstruction, error) {
	return c.escrowAction(ctx, "/escrows/cancel", in)
}

func (c *BackendClient) DisputeEscrow(ctx context.Context, in models.DisputeEscrowRequest) (*models.EscrowInstruction, error) {
	return c.escrowAction(ctx, "/escrows/dispute", in)
}

func (c *BackendClient) GetEscrow(ctx context.Context, tradeID int64) (*models.Escrow, error) {
	var out models.Escrow
	if err := c.do(ctx, call{method: http.MethodGet, path: pathf("/escrows/%d", tradeID)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) ListMyEscrows(ctx context.Context) ([]models.Escrow, error) {
	var out []models.Escrow
	if err := c.do(ctx, call{method: http.MethodGet, path: "/my/escrows", protected: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) escrowAction(ctx context.Context, path string, body any) (*models.EscrowInstruction, error) {
	var out models.EscrowInstruction
	if err := c.do(ctx, call{method: http.MethodPost, path: path, body: body, protected: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
