package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// ProposalStore implementation: propostas, clientes, bancos
// ============================================================

func (c *Client) GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProposal")
	defer span.End()
	span.SetAttributes(attribute.String("proposal.id", proposalID))

	var proposal *domain.Proposal
	err := c.read(ctx, "supabase/propostas", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("propostas?id=%s&limit=1", eq(proposalID)))
		if err != nil {
			return err
		}
		proposal, err = decodeFirst[domain.Proposal](body, "propostas")
		return err
	})
	return proposal, err
}

func (c *Client) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetClient")
	defer span.End()

	var client *domain.Client
	err := c.read(ctx, "supabase/clientes", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("clientes?id=%s&limit=1", eq(clientID)))
		if err != nil {
			return err
		}
		client, err = decodeFirst[domain.Client](body, "clientes")
		return err
	})
	return client, err
}

func (c *Client) GetBank(ctx context.Context, bankID string) (*domain.Bank, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetBank")
	defer span.End()

	var bank *domain.Bank
	err := c.read(ctx, "supabase/bancos", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("bancos?id=%s&limit=1", eq(bankID)))
		if err != nil {
			return err
		}
		bank, err = decodeFirst[domain.Bank](body, "bancos")
		return err
	})
	return bank, err
}

// pendingSubmission matches proposals the lender has not accepted yet.
const pendingSubmission = "or=(protocolo_banco.is.null,bank_status.eq.nao_enviado)"

// SaveSubmission records a lender attempt. A failed attempt keeps any
// previous protocolo untouched and only stores the error. The write only
// applies while the proposal is still pending; otherwise ErrConflict.
func (c *Client) SaveSubmission(ctx context.Context, rec *domain.SubmissionRecord) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveSubmission")
	defer span.End()
	span.SetAttributes(
		attribute.String("proposal.id", rec.ProposalID),
		attribute.String("bank.status", string(rec.BankStatus)),
	)

	updates := map[string]any{
		"bank_status":      rec.BankStatus,
		"payload_enviado":  rec.PayloadEnviado,
		"resposta_banco":   rec.RespostaBanco,
		"erro_banco":       rec.ErroBanco,
		"data_envio_banco": rec.SentAt.Format(time.RFC3339),
	}
	if rec.ProtocoloBanco != nil {
		updates["protocolo_banco"] = *rec.ProtocoloBanco
	}

	err := c.write("supabase/propostas", func() error {
		body, err := c.doPatchReturning(ctx, fmt.Sprintf("propostas?id=%s&%s", eq(rec.ProposalID), pendingSubmission), updates)
		if err != nil {
			return err
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode propostas: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrConflict{Message: "Proposta já enviada ao banco"}
		}
		return nil
	})
	if err != nil {
		c.logger.Error("supabase: save submission failed", zap.String("proposal_id", rec.ProposalID), zap.Error(err))
	}
	return err
}

func (c *Client) UpdateBankStatus(ctx context.Context, proposalID string, status domain.BankStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateBankStatus")
	defer span.End()
	span.SetAttributes(attribute.String("proposal.id", proposalID))

	if !status.Valid() {
		return &domain.ErrValidation{Field: "bank_status", Message: fmt.Sprintf("status bancário inválido: %s", status)}
	}
	return c.write("supabase/propostas", func() error {
		return c.doPatch(ctx, fmt.Sprintf("propostas?id=%s", eq(proposalID)), map[string]any{"bank_status": status})
	})
}
