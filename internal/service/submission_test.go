package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/cache"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/port"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.uber.org/zap"
)

const defaultFactaURL = "https://facta.test"

type submissionFixture struct {
	store   *memStore
	lender  *fakeLender
	limiter *fakeLimiter
	metrics *observability.Metrics
	svc     *service.SubmissionService
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("seller", "c-1", domain.RoleVendedor)
	store.banks["bank-facta"] = &domain.Bank{ID: "bank-facta", Code: "FACTA", Name: "Facta Financeira", APIEnabled: true}
	store.banks["bank-other"] = &domain.Bank{ID: "bank-other", Code: "BMG", Name: "Banco BMG", APIEnabled: true}
	store.clients["cli-1"] = &domain.Client{ID: "cli-1", CompanyID: "c-1", Name: "Maria", CPF: "123.456.789-09"}
	store.proposals["prop-1"] = &domain.Proposal{
		ID: "prop-1", CompanyID: "c-1", ClientID: "cli-1", BankID: strPtr("bank-facta"),
		Modality: domain.ModalityMargemLivre, RequestedValue: 5000, TermMonths: 48,
		Convenio: strPtr("INSS"), BankStatus: domain.BankNaoEnviado,
	}

	idem := cache.NewMemoryIdempotency(time.Hour)
	t.Cleanup(idem.Close)

	f := &submissionFixture{
		store:   store,
		lender:  &fakeLender{},
		limiter: &fakeLimiter{},
		metrics: observability.NewMetrics(),
	}
	f.svc = service.NewSubmissionService(
		store, f.lender, store, idem, f.limiter,
		service.NewCallerResolver(store), defaultFactaURL, f.metrics, zap.NewNop(),
	)
	return f
}

func okReply(protocolo string) *port.LenderReply {
	body := `{"protocolo":"` + protocolo + `","status":"RECEBIDA"}`
	if protocolo == "" {
		body = `{"status":"RECEBIDA"}`
	}
	return &port.LenderReply{
		StatusCode: 200,
		Body:       []byte(body),
		Parsed:     domain.FactaSubmitResponse{Protocolo: protocolo, Status: "RECEBIDA"},
	}
}

// --- Submit ---

func TestSubmit_SuccessPersistsProtocolo(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("FAC-123")

	res, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Protocolo != "FAC-123" || res.BankStatus != domain.BankEmAnalise {
		t.Errorf("unexpected result: %+v", res)
	}

	p := f.store.proposals["prop-1"]
	if p.BankStatus != domain.BankEmAnalise || p.ProtocoloBanco == nil || *p.ProtocoloBanco != "FAC-123" {
		t.Errorf("expected proposal em_analise with protocolo, got %+v", p)
	}
	rec := f.store.saved[0]
	if len(rec.PayloadEnviado) == 0 || len(rec.RespostaBanco) == 0 || rec.ErroBanco != nil {
		t.Errorf("expected payload and response snapshot without error, got %+v", rec)
	}
	if actions := f.store.auditActions(); len(actions) != 1 || actions[0] != domain.AuditSubmitFacta {
		t.Errorf("expected envio_facta audit, got %v", actions)
	}
	if f.lender.lastBaseURL != defaultFactaURL {
		t.Errorf("expected default base url, got %s", f.lender.lastBaseURL)
	}
	if f.lender.lastPayload.TipoOperacao != domain.FactaOpNovoContrato {
		t.Errorf("unexpected payload: %+v", f.lender.lastPayload)
	}
	if f.metrics.Snapshot().SubmissionsAccepted != 1 {
		t.Error("expected one accepted submission")
	}
}

func TestSubmit_OKWithoutProtocoloIsFailure(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("")

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var upstream *domain.ErrUpstream
	if !errors.As(err, &upstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	p := f.store.proposals["prop-1"]
	if p.BankStatus != domain.BankNaoEnviado || p.ProtocoloBanco != nil {
		t.Errorf("expected nao_enviado without protocolo, got %+v", p)
	}
	if p.ErroBanco == nil || *p.ErroBanco == "" {
		t.Error("expected erro_banco to be recorded")
	}
	if actions := f.store.auditActions(); len(actions) != 1 || actions[0] != domain.AuditSubmitFactaFail {
		t.Errorf("expected erro_envio_facta audit, got %v", actions)
	}
}

func TestSubmit_LenderRejectionCarriesMessage(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = &port.LenderReply{
		StatusCode: 422,
		Body:       []byte(`{"mensagem":"CPF com restrição"}`),
		Parsed:     domain.FactaSubmitResponse{Mensagem: "CPF com restrição"},
	}

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var upstream *domain.ErrUpstream
	if !errors.As(err, &upstream) || upstream.Message != "CPF com restrição" || upstream.StatusCode != 422 {
		t.Fatalf("expected lender message, got %v", err)
	}
	if f.metrics.Snapshot().SubmissionsRejected != 1 {
		t.Error("expected one rejected submission")
	}
}

func TestSubmit_TransportErrorMarksNotSent(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.err = &domain.ErrCircuitOpen{Service: "facta"}

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if f.store.proposals["prop-1"].BankStatus != domain.BankNaoEnviado {
		t.Error("expected nao_enviado after transport failure")
	}
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("FAC-9")
	req := &domain.SubmitProposalRequest{ProposalID: "prop-1"}

	first, err := f.svc.Submit(context.Background(), "seller", "key-1", req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := f.svc.Submit(context.Background(), "seller", "key-1", req)
	if err != nil {
		t.Fatalf("replayed submit: %v", err)
	}

	if f.lender.submits != 1 {
		t.Errorf("expected the lender to be called once, got %d", f.lender.submits)
	}
	if !second.Replayed || second.Protocolo != first.Protocolo {
		t.Errorf("expected replay of %+v, got %+v", first, second)
	}
	if f.metrics.Snapshot().IdempotentReplays != 1 {
		t.Error("expected one idempotent replay")
	}
}

func TestSubmit_IdempotencyKeyReusedForOtherProposal(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("FAC-9")
	f.store.proposals["prop-2"] = &domain.Proposal{
		ID: "prop-2", CompanyID: "c-1", ClientID: "cli-1", BankID: strPtr("bank-facta"),
		Modality: domain.ModalityMargemLivre, BankStatus: domain.BankNaoEnviado,
	}

	if _, err := f.svc.Submit(context.Background(), "seller", "key-1", &domain.SubmitProposalRequest{ProposalID: "prop-1"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.svc.Submit(context.Background(), "seller", "key-1", &domain.SubmitProposalRequest{ProposalID: "prop-2"})

	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// submitConcurrently fires the same submission from n goroutines released
// together and returns every outcome.
func submitConcurrently(f *submissionFixture, n int, idemKey string) ([]*domain.SubmissionResult, []error) {
	var (
		start   = make(chan struct{})
		wg      sync.WaitGroup
		results = make([]*domain.SubmissionResult, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.Submit(context.Background(), "seller", idemKey, &domain.SubmitProposalRequest{ProposalID: "prop-1"})
		}(i)
	}
	close(start)
	wg.Wait()
	return results, errs
}

func TestSubmit_ConcurrentSameIdempotencyKeyCallsLenderOnce(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("FAC-1")
	f.lender.delay = 50 * time.Millisecond

	results, errs := submitConcurrently(f, 2, "click-1")

	fresh := 0
	for i := range results {
		var conflict *domain.ErrConflict
		switch {
		case errs[i] == nil && !results[i].Replayed:
			fresh++
		case errs[i] == nil && results[i].Replayed:
		case errors.As(errs[i], &conflict):
		default:
			t.Errorf("unexpected outcome: %+v, %v", results[i], errs[i])
		}
	}
	if fresh != 1 {
		t.Errorf("expected exactly one fresh submission, got %d", fresh)
	}
	if f.lender.submits != 1 {
		t.Errorf("expected the lender to be called once, got %d", f.lender.submits)
	}
	if len(f.store.saved) != 1 {
		t.Errorf("expected one saved submission, got %d", len(f.store.saved))
	}
}

func TestSubmit_ConcurrentWithoutKeyCallsLenderOnce(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("FAC-1")
	f.lender.delay = 50 * time.Millisecond

	_, errs := submitConcurrently(f, 3, "")

	ok, conflicts := 0, 0
	for _, err := range errs {
		var conflict *domain.ErrConflict
		switch {
		case err == nil:
			ok++
		case errors.As(err, &conflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 2 {
		t.Errorf("expected 1 success and 2 conflicts, got %d and %d", ok, conflicts)
	}
	if f.lender.submits != 1 {
		t.Errorf("expected the lender to be called once, got %d", f.lender.submits)
	}
}

func TestSubmit_RejectionReleasesIdempotencyKey(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = &port.LenderReply{StatusCode: 422, Body: []byte(`{"mensagem":"CPF inválido"}`)}
	req := &domain.SubmitProposalRequest{ProposalID: "prop-1"}

	if _, err := f.svc.Submit(context.Background(), "seller", "key-1", req); err == nil {
		t.Fatal("expected lender rejection")
	}

	f.lender.reply = okReply("FAC-2")
	res, err := f.svc.Submit(context.Background(), "seller", "key-1", req)
	if err != nil {
		t.Fatalf("retry with same key: %v", err)
	}
	if res.Replayed || res.Protocolo != "FAC-2" {
		t.Errorf("expected a fresh submission, got %+v", res)
	}
	if f.lender.submits != 2 {
		t.Errorf("expected two lender calls, got %d", f.lender.submits)
	}
}

func TestSubmit_PersistenceRaceSurfacesConflict(t *testing.T) {
	f := newSubmissionFixture(t)
	f.lender.reply = okReply("FAC-2")
	// Another instance stored its protocolo after this request loaded the row.
	f.store.saveHook = func(p *domain.Proposal) {
		p.ProtocoloBanco = strPtr("FAC-1")
		p.BankStatus = domain.BankEmAnalise
	}

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := *f.store.proposals["prop-1"].ProtocoloBanco; got != "FAC-1" {
		t.Errorf("expected the first protocolo to survive, got %s", got)
	}
}

func TestSubmit_AlreadySubmittedRejected(t *testing.T) {
	f := newSubmissionFixture(t)
	p := f.store.proposals["prop-1"]
	p.ProtocoloBanco = strPtr("FAC-OLD")
	p.BankStatus = domain.BankEmAnalise

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if f.lender.submits != 0 {
		t.Error("expected no lender call")
	}
}

func TestSubmit_OtherTenantProposalNotFound(t *testing.T) {
	f := newSubmissionFixture(t)
	f.store.seedCompany("c-2", domain.CompanyActive, 5)
	f.store.seedUser("intruder", "c-2", domain.RoleAdministrador)

	_, err := f.svc.Submit(context.Background(), "intruder", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmit_NonIntegratedBank(t *testing.T) {
	f := newSubmissionFixture(t)
	f.store.proposals["prop-1"].BankID = strPtr("bank-other")

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var rule *domain.ErrBusinessRule
	if !errors.As(err, &rule) || rule.Rule != "bank_not_integrated" {
		t.Fatalf("expected bank_not_integrated, got %v", err)
	}
	if f.lender.submits != 0 {
		t.Error("expected no lender call")
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	f := newSubmissionFixture(t)
	f.limiter.retryAfter = 1500 * time.Millisecond

	_, err := f.svc.Submit(context.Background(), "seller", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var limited *domain.ErrRateLimited
	if !errors.As(err, &limited) || limited.RetryAfterSeconds != 2 {
		t.Fatalf("expected ErrRateLimited(2s), got %v", err)
	}
	if f.limiter.keys[0] != "c-1" {
		t.Errorf("expected limiter keyed by company, got %v", f.limiter.keys)
	}
}

func TestSubmit_ReadOnlyRoleForbidden(t *testing.T) {
	f := newSubmissionFixture(t)
	f.store.seedUser("auditor", "c-1", domain.RoleAuditor)

	_, err := f.svc.Submit(context.Background(), "auditor", "", &domain.SubmitProposalRequest{ProposalID: "prop-1"})

	var forbidden *domain.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

// --- SyncStatus ---

func submittedFixture(t *testing.T) *submissionFixture {
	t.Helper()
	f := newSubmissionFixture(t)
	p := f.store.proposals["prop-1"]
	p.ProtocoloBanco = strPtr("FAC-1")
	p.BankStatus = domain.BankEmAnalise
	f.store.banks["bank-facta"].APIBaseURL = strPtr("https://facta.bank/")
	return f
}

func TestSyncStatus_MapsApproved(t *testing.T) {
	f := submittedFixture(t)
	f.lender.status = &domain.FactaStatusResponse{Protocolo: "FAC-1", Status: "APROVADO"}

	res, err := f.svc.SyncStatus(context.Background(), "seller", &domain.SyncStatusRequest{ProposalID: "prop-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Updated || res.BankStatus != domain.BankAprovado {
		t.Errorf("expected update to aprovado, got %+v", res)
	}
	if f.store.proposals["prop-1"].BankStatus != domain.BankAprovado {
		t.Error("expected stored bank_status aprovado")
	}
	if f.lender.lastBaseURL != "https://facta.bank" {
		t.Errorf("expected bank base url, got %s", f.lender.lastBaseURL)
	}
	if actions := f.store.auditActions(); len(actions) != 1 || actions[0] != domain.AuditSyncFacta {
		t.Errorf("expected sync audit, got %v", actions)
	}
}

func TestSyncStatus_UnmappedStatusLeavesUnchanged(t *testing.T) {
	f := submittedFixture(t)
	f.lender.status = &domain.FactaStatusResponse{Protocolo: "FAC-1", Status: "EM_AUDITORIA_INTERNA"}

	res, err := f.svc.SyncStatus(context.Background(), "seller", &domain.SyncStatusRequest{ProposalID: "prop-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Updated || res.BankStatus != domain.BankEmAnalise {
		t.Errorf("expected unchanged em_analise, got %+v", res)
	}
	if f.store.statusWrites != 0 {
		t.Errorf("expected no status writes, got %d", f.store.statusWrites)
	}
}

func TestSyncStatus_NotSubmitted(t *testing.T) {
	f := newSubmissionFixture(t)

	_, err := f.svc.SyncStatus(context.Background(), "seller", &domain.SyncStatusRequest{ProposalID: "prop-1"})

	var rule *domain.ErrBusinessRule
	if !errors.As(err, &rule) || rule.Rule != "not_submitted" {
		t.Fatalf("expected not_submitted, got %v", err)
	}
	if f.lender.statusCalls != 0 {
		t.Error("expected no lender call")
	}
}

func TestSyncStatus_RequiresSubmitRole(t *testing.T) {
	f := submittedFixture(t)
	f.store.seedUser("compliance", "c-1", domain.RoleCompliance)

	_, err := f.svc.SyncStatus(context.Background(), "compliance", &domain.SyncStatusRequest{ProposalID: "prop-1"})

	var forbidden *domain.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
