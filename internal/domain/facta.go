package domain

import "strings"

// ============================================================
// FACTA lender payload
// ============================================================

// FACTA operation codes (tipo_operacao).
const (
	FactaOpNovoContrato       = "NOVO_CONTRATO"
	FactaOpAntecipacaoFGTS    = "ANTECIPACAO_FGTS"
	FactaOpPortabilidade      = "PORTABILIDADE"
	FactaOpPortabilidadeRefin = "PORTABILIDADE_REFIN"
	FactaOpCartaoConsignado   = "CARTAO_CONSIGNADO"
	FactaOpCreditoTrabalhador = "CREDITO_TRABALHADOR"
)

// FactaPayload is the body of POST /v2/propostas.
type FactaPayload struct {
	TipoOperacao     string              `json:"tipo_operacao"`
	CodigoIntegracao string              `json:"codigo_integracao"`
	Cliente          FactaCliente        `json:"cliente"`
	Convenio         *string             `json:"convenio,omitempty"`
	Matricula        string              `json:"matricula,omitempty"`
	ValorSolicitado  float64             `json:"valor_solicitado"`
	Prazo            int                 `json:"prazo,omitempty"`
	TaxaJuros        *float64            `json:"taxa_juros,omitempty"`
	ContaBancaria    *FactaConta         `json:"conta_bancaria,omitempty"`
	Portabilidade    *FactaPortabilidade `json:"portabilidade,omitempty"`
	FGTS             *FactaFGTS          `json:"fgts,omitempty"`
	Cartao           *FactaCartao        `json:"cartao,omitempty"`
	EmpregadorCNPJ   string              `json:"empregador_cnpj,omitempty"`
}

// FactaCliente is the borrower block.
type FactaCliente struct {
	Nome           string `json:"nome"`
	CPF            string `json:"cpf"`
	DataNascimento string `json:"data_nascimento,omitempty"`
	Telefone       string `json:"telefone,omitempty"`
	Email          string `json:"email,omitempty"`
	CEP            string `json:"cep,omitempty"`
	Endereco       string `json:"endereco,omitempty"`
	Cidade         string `json:"cidade,omitempty"`
	UF             string `json:"uf,omitempty"`
}

// FactaConta is the destination account for the credit.
type FactaConta struct {
	Banco   string `json:"banco"`
	Agencia string `json:"agencia"`
	Conta   string `json:"conta"`
	Tipo    string `json:"tipo"`
}

// FactaPortabilidade describes the contract being ported.
type FactaPortabilidade struct {
	BancoOrigem     string  `json:"banco_origem"`
	ContratoOrigem  string  `json:"contrato_origem"`
	SaldoDevedor    float64 `json:"saldo_devedor"`
	ParcelaAtual    float64 `json:"parcela_atual"`
	Refinanciamento bool    `json:"refinanciamento"`
}

// FactaFGTS describes an FGTS birthday-withdrawal advance.
type FactaFGTS struct {
	ParcelasAntecipadas int `json:"parcelas_antecipadas"`
}

// FactaCartao describes a payroll credit card withdrawal.
type FactaCartao struct {
	ValorSaque float64 `json:"valor_saque"`
}

// FactaSubmitResponse is the lender answer to POST /v2/propostas.
type FactaSubmitResponse struct {
	Protocolo string `json:"protocolo"`
	Status    string `json:"status"`
	Mensagem  string `json:"mensagem"`
	Erro      string `json:"erro"`
}

// Message returns the lender's human message, if any.
func (r FactaSubmitResponse) Message() string {
	if r.Mensagem != "" {
		return r.Mensagem
	}
	return r.Erro
}

// FactaStatusResponse is the lender answer to GET /v2/propostas/{protocolo}/status.
type FactaStatusResponse struct {
	Protocolo string `json:"protocolo"`
	Status    string `json:"status"`
	Mensagem  string `json:"mensagem"`
}

// BuildFactaPayload maps a proposal and its client to the FACTA payload.
// Unknown modalities fall back to the upper-cased modality as tipo_operacao
// and are shaped like a new payroll contract.
func BuildFactaPayload(p Proposal, c Client) FactaPayload {
	payload := FactaPayload{
		CodigoIntegracao: p.ID,
		Cliente:          factaCliente(c),
		ValorSolicitado:  p.RequestedValue,
	}
	matricula := deref(c.Matricula)
	convenio := deref(p.Convenio)

	switch p.Modality {
	case ModalityMargemLivre:
		payload.TipoOperacao = FactaOpNovoContrato
		payload.Convenio = &convenio
		payload.Matricula = matricula
		payload.Prazo = p.TermMonths
		payload.TaxaJuros = p.InterestRate
		payload.ContaBancaria = factaConta(p)

	case ModalityFGTSAntecipacao:
		payload.TipoOperacao = FactaOpAntecipacaoFGTS
		payload.FGTS = &FactaFGTS{ParcelasAntecipadas: p.TermMonths}
		payload.TaxaJuros = p.InterestRate
		payload.ContaBancaria = factaConta(p)

	case ModalityPortabilidade, ModalityPortRefinanciamento:
		payload.TipoOperacao = FactaOpPortabilidade
		if p.Modality == ModalityPortRefinanciamento {
			payload.TipoOperacao = FactaOpPortabilidadeRefin
		}
		payload.Convenio = &convenio
		payload.Matricula = matricula
		payload.Prazo = p.TermMonths
		payload.TaxaJuros = p.InterestRate
		payload.Portabilidade = &FactaPortabilidade{
			BancoOrigem:     deref(p.OriginBank),
			ContratoOrigem:  deref(p.OriginContract),
			SaldoDevedor:    derefFloat(p.OutstandingDebt),
			ParcelaAtual:    derefFloat(p.CurrentInstallment),
			Refinanciamento: p.Modality == ModalityPortRefinanciamento,
		}
		if p.Modality == ModalityPortRefinanciamento {
			payload.ContaBancaria = factaConta(p)
		}

	case ModalityCartaoConsignado:
		payload.TipoOperacao = FactaOpCartaoConsignado
		payload.Convenio = &convenio
		payload.Matricula = matricula
		payload.Cartao = &FactaCartao{ValorSaque: p.RequestedValue}
		payload.ContaBancaria = factaConta(p)

	case ModalityCreditoTrabalhador:
		payload.TipoOperacao = FactaOpCreditoTrabalhador
		payload.EmpregadorCNPJ = NormalizeCNPJ(deref(p.EmployerCNPJ))
		payload.Prazo = p.TermMonths
		payload.TaxaJuros = p.InterestRate
		payload.ContaBancaria = factaConta(p)

	default:
		payload.TipoOperacao = strings.ToUpper(string(p.Modality))
		payload.Convenio = &convenio
		payload.Matricula = matricula
		payload.Prazo = p.TermMonths
		payload.TaxaJuros = p.InterestRate
		payload.ContaBancaria = factaConta(p)
	}

	return payload
}

var factaStatusMap = map[string]BankStatus{
	"ANALISE":             BankEmAnalise,
	"APROVADO":            BankAprovado,
	"REPROVADO":           BankReprovado,
	"PENDENTE_DOCUMENTOS": BankPendenteDocumentos,
	"PENDENTE_ASSINATURA": BankPendenteAssinatura,
	"PAGO":                BankPago,
}

// MapFactaStatus translates a lender status into the internal bank status.
// The second result is false for statuses without a mapping.
func MapFactaStatus(lenderStatus string) (BankStatus, bool) {
	s, ok := factaStatusMap[lenderStatus]
	return s, ok
}

func factaCliente(c Client) FactaCliente {
	return FactaCliente{
		Nome:           c.Name,
		CPF:            OnlyDigits(c.CPF),
		DataNascimento: deref(c.BirthDate),
		Telefone:       deref(c.Phone),
		Email:          deref(c.Email),
		CEP:            deref(c.CEP),
		Endereco:       deref(c.Address),
		Cidade:         deref(c.City),
		UF:             deref(c.State),
	}
}

func factaConta(p Proposal) *FactaConta {
	if p.AccountBank == nil && p.AccountNumber == nil {
		return nil
	}
	tipo := deref(p.AccountType)
	if tipo == "" {
		tipo = "corrente"
	}
	return &FactaConta{
		Banco:   deref(p.AccountBank),
		Agencia: deref(p.AccountBranch),
		Conta:   deref(p.AccountNumber),
		Tipo:    tipo,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
