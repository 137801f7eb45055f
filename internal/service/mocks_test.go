package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/port"
)

// --- Mocks ---

// memStore is an in-memory TenantStore, TenantProvisioner, ProposalStore,
// SalesStore and AuditLogger. writes counts every mutating call.
type memStore struct {
	mu        sync.Mutex
	companies map[string]*domain.Company
	profiles  map[string]*domain.Profile
	roles     map[string]*domain.RoleAssignment
	proposals map[string]*domain.Proposal
	clients   map[string]*domain.Client
	banks     map[string]*domain.Bank
	sales     []domain.Sale
	audit     []domain.AuditEntry
	saved     []domain.SubmissionRecord

	writes       int
	statusWrites int
	seq          int

	createRoleErr error
	provisionHook func(s *memStore) error
	saveHook      func(p *domain.Proposal)
}

func newMemStore() *memStore {
	return &memStore{
		companies: map[string]*domain.Company{},
		profiles:  map[string]*domain.Profile{},
		roles:     map[string]*domain.RoleAssignment{},
		proposals: map[string]*domain.Proposal{},
		clients:   map[string]*domain.Client{},
		banks:     map[string]*domain.Bank{},
	}
}

func strPtr(s string) *string { return &s }

func (s *memStore) id(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// seedUser adds an active profile and role for userID in companyID.
func (s *memStore) seedUser(userID, companyID string, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = &domain.Profile{
		UserID: userID, CompanyID: strPtr(companyID), Email: userID + "@exemplo.com",
		FullName: "User " + userID, IsActive: true,
	}
	s.roles[userID] = &domain.RoleAssignment{UserID: userID, Role: role, CompanyID: strPtr(companyID)}
}

func (s *memStore) seedCompany(id string, status domain.CompanyStatus, maxUsers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[id] = &domain.Company{
		ID: id, Name: "Empresa " + id, CNPJ: strPtr("11222333000181"),
		Status: status, Plan: domain.PlanBasico, MaxUsers: maxUsers,
	}
}

func (s *memStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audit))
	for _, e := range s.audit {
		out = append(out, e.Action)
	}
	return out
}

func (s *memStore) GetProfileByUserID(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) CreateProfile(_ context.Context, p *domain.Profile) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cp := *p
	cp.ID = s.id("profile")
	s.profiles[p.UserID] = &cp
	return &cp, nil
}

func (s *memStore) UpdateProfile(_ context.Context, userID string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	p, ok := s.profiles[userID]
	if !ok {
		return &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	if v, ok := updates["is_active"].(bool); ok {
		p.IsActive = v
	}
	if v, ok := updates["company_id"].(string); ok {
		p.CompanyID = strPtr(v)
	}
	if v, ok := updates["full_name"].(string); ok {
		p.FullName = v
	}
	return nil
}

func (s *memStore) CountActiveProfiles(_ context.Context, companyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.profiles {
		if p.IsActive && p.CompanyID != nil && *p.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetRole(_ context.Context, userID string) (*domain.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[userID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) CreateRole(_ context.Context, r *domain.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createRoleErr != nil {
		return s.createRoleErr
	}
	if _, ok := s.roles[r.UserID]; ok {
		return &domain.ErrConflict{Message: "role exists"}
	}
	s.writes++
	cp := *r
	s.roles[r.UserID] = &cp
	return nil
}

func (s *memStore) UpsertRole(_ context.Context, r *domain.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cp := *r
	s.roles[r.UserID] = &cp
	return nil
}

func (s *memStore) DeleteRole(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.roles, userID)
	return nil
}

func (s *memStore) GetCompany(_ context.Context, companyID string) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetCompanyByCNPJ(_ context.Context, cnpj string) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.CNPJ != nil && *c.CNPJ == cnpj {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateCompany(_ context.Context, nc *domain.NewCompany) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	c := &domain.Company{
		ID: s.id("company"), Name: nc.Name, CNPJ: nc.CNPJ, Status: nc.Status,
		Plan: nc.Plan, MaxUsers: nc.MaxUsers, CreatedAt: time.Now(),
	}
	s.companies[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) DeleteCompany(_ context.Context, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.companies, companyID)
	return nil
}

func (s *memStore) ProvisionTenant(ctx context.Context, b *domain.TenantBundle) (*domain.ProvisionedTenant, error) {
	if s.provisionHook != nil {
		if err := s.provisionHook(s); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	company, err := s.CreateCompany(ctx, &b.Company)
	if err != nil {
		return nil, err
	}
	profile := b.Profile
	profile.CompanyID = strPtr(company.ID)
	created, err := s.CreateProfile(ctx, &profile)
	if err != nil {
		return nil, err
	}
	role := domain.RoleAssignment{UserID: profile.UserID, Role: b.Role, CompanyID: strPtr(company.ID)}
	if err := s.CreateRole(ctx, &role); err != nil {
		return nil, err
	}
	return &domain.ProvisionedTenant{Company: *company, Profile: *created, Role: role}, nil
}

func (s *memStore) GetProposal(_ context.Context, id string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetBank(_ context.Context, id string) (*domain.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.banks[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) SaveSubmission(_ context.Context, rec *domain.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.proposals[rec.ProposalID]
	if s.saveHook != nil {
		s.saveHook(p)
	}
	if p.ProtocoloBanco != nil && p.BankStatus != domain.BankNaoEnviado {
		return &domain.ErrConflict{Message: "Proposta já enviada ao banco"}
	}
	s.saved = append(s.saved, *rec)
	p.BankStatus = rec.BankStatus
	if rec.ProtocoloBanco != nil {
		p.ProtocoloBanco = rec.ProtocoloBanco
	}
	p.ErroBanco = rec.ErroBanco
	return nil
}

func (s *memStore) UpdateBankStatus(_ context.Context, id string, status domain.BankStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusWrites++
	s.proposals[id].BankStatus = status
	return nil
}

func (s *memStore) ListSales(_ context.Context, companyID string, from, to time.Time) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Sale
	for _, sale := range s.sales {
		if sale.CompanyID == companyID && !sale.SaleDate.Before(from) && sale.SaleDate.Before(to) {
			out = append(out, sale)
		}
	}
	return out, nil
}

func (s *memStore) InsertAuditLog(_ context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *e)
	return nil
}

// memAuth is an in-memory AuthAdmin.
type memAuth struct {
	mu        sync.Mutex
	users     map[string]string // email -> id
	created   []string
	deleted   []string
	calls     int
	createErr error
	deleteErr error
}

func newMemAuth() *memAuth {
	return &memAuth{users: map[string]string{}}
}

func (a *memAuth) CreateUser(_ context.Context, u *domain.NewAuthUser) (*domain.AuthUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.createErr != nil {
		return nil, a.createErr
	}
	if _, ok := a.users[u.Email]; ok {
		return nil, &domain.ErrConflict{Message: "email_exists"}
	}
	id := fmt.Sprintf("auth-%d", len(a.created)+1)
	a.users[u.Email] = id
	a.created = append(a.created, id)
	return &domain.AuthUser{ID: id, Email: u.Email}, nil
}

func (a *memAuth) DeleteUser(_ context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.deleteErr != nil {
		return a.deleteErr
	}
	a.deleted = append(a.deleted, userID)
	for email, id := range a.users {
		if id == userID {
			delete(a.users, email)
		}
	}
	return nil
}

func (a *memAuth) FindUserByEmail(_ context.Context, email string) (*domain.AuthUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if id, ok := a.users[email]; ok {
		return &domain.AuthUser{ID: id, Email: email}, nil
	}
	return nil, nil
}

// fakeLender is a scripted LenderAPI.
type fakeLender struct {
	mu          sync.Mutex
	reply       *port.LenderReply
	err         error
	status      *domain.FactaStatusResponse
	submits     int
	statusCalls int
	lastBaseURL string
	lastPayload *domain.FactaPayload
	delay       time.Duration
}

func (l *fakeLender) SubmitProposal(_ context.Context, baseURL string, payload *domain.FactaPayload) (*port.LenderReply, error) {
	time.Sleep(l.delay)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits++
	l.lastBaseURL = baseURL
	l.lastPayload = payload
	return l.reply, l.err
}

func (l *fakeLender) GetStatus(_ context.Context, baseURL, _ string) (*domain.FactaStatusResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusCalls++
	l.lastBaseURL = baseURL
	return l.status, l.err
}

// fakeLimiter returns a fixed retryAfter.
type fakeLimiter struct {
	mu         sync.Mutex
	retryAfter time.Duration
	err        error
	keys       []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.retryAfter, f.err
}
