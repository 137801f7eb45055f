package domain

import (
	"encoding/json"
	"time"
)

// ============================================================
// Proposals
// ============================================================

// Modality is the loan product type; it drives the lender payload shape.
type Modality string

const (
	ModalityMargemLivre         Modality = "margem_livre"
	ModalityFGTSAntecipacao     Modality = "fgts_antecipacao"
	ModalityPortabilidade       Modality = "portabilidade"
	ModalityPortRefinanciamento Modality = "port_refinanciamento"
	ModalityCartaoConsignado    Modality = "cartao_consignado"
	ModalityCreditoTrabalhador  Modality = "credito_trabalhador"
)

// Known reports whether m is one of the modalities with a dedicated payload branch.
func (m Modality) Known() bool {
	switch m {
	case ModalityMargemLivre, ModalityFGTSAntecipacao, ModalityPortabilidade,
		ModalityPortRefinanciamento, ModalityCartaoConsignado, ModalityCreditoTrabalhador:
		return true
	}
	return false
}

// InternalStatus is the tenant's own workflow stage.
type InternalStatus string

const (
	InternalRascunho             InternalStatus = "rascunho"
	InternalEmAnalise            InternalStatus = "em_analise"
	InternalPendenteFormalizacao InternalStatus = "pendente_formalizacao"
	InternalAprovada             InternalStatus = "aprovada"
)

// BankStatus mirrors the lender-side lifecycle of a proposal.
type BankStatus string

const (
	BankNaoEnviado         BankStatus = "nao_enviado"
	BankEmAnalise          BankStatus = "em_analise"
	BankAprovado           BankStatus = "aprovado"
	BankReprovado          BankStatus = "reprovado"
	BankPendenteDocumentos BankStatus = "pendente_documentos"
	BankPendenteAssinatura BankStatus = "pendente_assinatura"
	BankPago               BankStatus = "pago"
)

// Valid reports whether s is a known bank status.
func (s BankStatus) Valid() bool {
	switch s {
	case BankNaoEnviado, BankEmAnalise, BankAprovado, BankReprovado,
		BankPendenteDocumentos, BankPendenteAssinatura, BankPago:
		return true
	}
	return false
}

// Proposal is a loan application under a company.
type Proposal struct {
	ID             string         `json:"id"`
	CompanyID      string         `json:"company_id"`
	ClientID       string         `json:"client_id"`
	BankID         *string        `json:"bank_id"`
	UserID         string         `json:"user_id"`
	Modality       Modality       `json:"modalidade"`
	RequestedValue float64        `json:"valor_solicitado"`
	TermMonths     int            `json:"prazo_meses"`
	InterestRate   *float64       `json:"taxa_juros"`
	Convenio       *string        `json:"convenio"`
	EmployerCNPJ   *string        `json:"empregador_cnpj"`
	InternalStatus InternalStatus `json:"status_interno"`
	BankStatus     BankStatus     `json:"bank_status"`

	// Destination bank account for the credit.
	AccountBank   *string `json:"banco_conta"`
	AccountBranch *string `json:"agencia"`
	AccountNumber *string `json:"conta"`
	AccountType   *string `json:"tipo_conta"`

	// Portability of an existing contract.
	OriginBank         *string  `json:"banco_origem"`
	OriginContract     *string  `json:"contrato_origem"`
	OutstandingDebt    *float64 `json:"saldo_devedor"`
	CurrentInstallment *float64 `json:"parcela_atual"`

	ProtocoloBanco *string         `json:"protocolo_banco"`
	PayloadEnviado json.RawMessage `json:"payload_enviado,omitempty"`
	RespostaBanco  json.RawMessage `json:"resposta_banco,omitempty"`
	ErroBanco      *string         `json:"erro_banco"`
	DataEnvioBanco *time.Time      `json:"data_envio_banco"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Client is the borrower referenced by a proposal.
type Client struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	Name      string  `json:"nome"`
	CPF       string  `json:"cpf"`
	BirthDate *string `json:"data_nascimento"`
	Phone     *string `json:"telefone"`
	Email     *string `json:"email"`
	Matricula *string `json:"matricula"`
	CEP       *string `json:"cep"`
	Address   *string `json:"endereco"`
	City      *string `json:"cidade"`
	State     *string `json:"uf"`
}

// Bank is a lender configured for proposals.
type Bank struct {
	ID         string  `json:"id"`
	Code       string  `json:"codigo"`
	Name       string  `json:"nome"`
	APIEnabled bool    `json:"api_habilitada"`
	APIBaseURL *string `json:"api_base_url"`
}

// FactaBankCode is the only bank code with an API integration.
const FactaBankCode = "FACTA"

// SubmissionRecord is what the store persists after a lender submission attempt.
type SubmissionRecord struct {
	ProposalID     string
	BankStatus     BankStatus
	ProtocoloBanco *string
	PayloadEnviado json.RawMessage
	RespostaBanco  json.RawMessage
	ErroBanco      *string
	SentAt         time.Time
}

// ============================================================
// Submission / sync API
// ============================================================

// SubmitProposalRequest is the body for POST /v1/proposals/submit.
type SubmitProposalRequest struct {
	ProposalID string `json:"proposal_id" validate:"required"`
}

// IdempotencyRecord is what an Idempotency-Key holds: a reservation while
// the lender call is in flight, then the submission result.
type IdempotencyRecord struct {
	ProposalID string            `json:"proposal_id"`
	Result     *SubmissionResult `json:"result,omitempty"`
}

// Pending reports whether the submission holding the key has not finished.
func (r IdempotencyRecord) Pending() bool {
	return r.Result == nil
}

// SubmissionResult is returned after a successful submission.
type SubmissionResult struct {
	ProposalID string     `json:"proposal_id"`
	Protocolo  string     `json:"protocolo"`
	BankStatus BankStatus `json:"bank_status"`
	Replayed   bool       `json:"replayed,omitempty"`
}

// SyncStatusRequest is the body for POST /v1/proposals/status-sync.
type SyncStatusRequest struct {
	ProposalID string `json:"proposal_id" validate:"required"`
}

// SyncResult is returned by a status synchronization.
type SyncResult struct {
	ProposalID   string     `json:"proposal_id"`
	Protocolo    string     `json:"protocolo"`
	LenderStatus string     `json:"lender_status"`
	BankStatus   BankStatus `json:"bank_status"`
	Updated      bool       `json:"updated"`
}
