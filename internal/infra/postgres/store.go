package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

// getOne runs a single-row query and maps sql.ErrNoRows to (nil, nil).
func getOne[T any](ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*T, error) {
	var v T
	if err := sqlx.GetContext(ctx, q, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// ============================================================
// TenantStore
// ============================================================

const profileColumns = `id, user_id, company_id, email, full_name, phone, is_active, created_at`

func (s *Store) GetProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProfileByUserID")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return getOne[domain.Profile](ctx, s.db, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
}

// GetProfileByEmail finds a profile by case-insensitive e-mail.
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProfileByEmail")
	defer span.End()

	return getOne[domain.Profile](ctx, s.db, `SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1) LIMIT 1`, email)
}

func (s *Store) CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateProfile")
	defer span.End()

	return createProfile(ctx, s.db, p)
}

func createProfile(ctx context.Context, q sqlx.QueryerContext, p *domain.Profile) (*domain.Profile, error) {
	created, err := getOne[domain.Profile](ctx, q, `
		INSERT INTO profiles (user_id, company_id, email, full_name, phone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+profileColumns,
		p.UserID, p.CompanyID, p.Email, p.FullName, p.Phone, p.IsActive)
	if err != nil {
		return nil, mapErr(err)
	}
	return created, nil
}

var profileUpdatable = map[string]bool{
	"company_id": true,
	"full_name":  true,
	"phone":      true,
	"is_active":  true,
	"email":      true,
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !profileUpdatable[col] {
			return fmt.Errorf("update profile: column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, updates[col])
	}
	args = append(args, userID)

	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE user_id = $%d`, strings.Join(sets, ", "), len(args))
	_, err := s.db.ExecContext(ctx, query, args...)
	return mapErr(err)
}

func (s *Store) CountActiveProfiles(ctx context.Context, companyID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountActiveProfiles")
	defer span.End()

	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM profiles WHERE company_id = $1 AND is_active`, companyID)
	return n, err
}

func (s *Store) GetRole(ctx context.Context, userID string) (*domain.RoleAssignment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetRole")
	defer span.End()

	return getOne[domain.RoleAssignment](ctx, s.db, `SELECT user_id, role, company_id FROM user_roles WHERE user_id = $1`, userID)
}

func (s *Store) CreateRole(ctx context.Context, r *domain.RoleAssignment) error {
	ctx, span := tracer.Start(ctx, "Postgres.CreateRole")
	defer span.End()

	return createRole(ctx, s.db, r)
}

func createRole(ctx context.Context, e sqlx.ExecerContext, r *domain.RoleAssignment) error {
	_, err := e.ExecContext(ctx, `INSERT INTO user_roles (user_id, role, company_id) VALUES ($1, $2, $3)`,
		r.UserID, r.Role, r.CompanyID)
	return mapErr(err)
}

func (s *Store) UpsertRole(ctx context.Context, r *domain.RoleAssignment) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertRole")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role, company_id) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, company_id = EXCLUDED.company_id`,
		r.UserID, r.Role, r.CompanyID)
	return mapErr(err)
}

func (s *Store) DeleteRole(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteRole")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

const companyColumns = `id, name, cnpj, status, plan, max_users, created_at`

func (s *Store) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetCompany")
	defer span.End()

	return getOne[domain.Company](ctx, s.db, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, companyID)
}

func (s *Store) GetCompanyByCNPJ(ctx context.Context, cnpj string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetCompanyByCNPJ")
	defer span.End()

	return getOne[domain.Company](ctx, s.db, `SELECT `+companyColumns+` FROM companies WHERE cnpj = $1`, cnpj)
}

func (s *Store) CreateCompany(ctx context.Context, c *domain.NewCompany) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateCompany")
	defer span.End()

	return createCompany(ctx, s.db, c)
}

func createCompany(ctx context.Context, q sqlx.QueryerContext, c *domain.NewCompany) (*domain.Company, error) {
	created, err := getOne[domain.Company](ctx, q, `
		INSERT INTO companies (name, cnpj, status, plan, max_users)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+companyColumns,
		c.Name, c.CNPJ, c.Status, c.Plan, c.MaxUsers)
	if err != nil {
		return nil, mapErr(err)
	}
	return created, nil
}

func (s *Store) DeleteCompany(ctx context.Context, companyID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteCompany")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id = $1`, companyID)
	return err
}

// ProvisionTenant inserts company, profile and role in one transaction.
func (s *Store) ProvisionTenant(ctx context.Context, bundle *domain.TenantBundle) (*domain.ProvisionedTenant, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ProvisionTenant")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", bundle.Profile.UserID))

	var out domain.ProvisionedTenant
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		company, err := createCompany(ctx, tx, &bundle.Company)
		if err != nil {
			return fmt.Errorf("create company: %w", err)
		}

		profile := bundle.Profile
		profile.CompanyID = &company.ID
		created, err := createProfile(ctx, tx, &profile)
		if err != nil {
			return fmt.Errorf("create profile: %w", err)
		}

		role := domain.RoleAssignment{UserID: profile.UserID, Role: bundle.Role, CompanyID: &company.ID}
		if err := createRole(ctx, tx, &role); err != nil {
			return fmt.Errorf("create role: %w", err)
		}

		out = domain.ProvisionedTenant{Company: *company, Profile: *created, Role: role}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================
// ProposalStore
// ============================================================

const proposalColumns = `id, company_id, client_id, bank_id, user_id, modalidade, valor_solicitado,
	prazo_meses, taxa_juros, convenio, empregador_cnpj, status_interno, bank_status,
	banco_conta, agencia, conta, tipo_conta, banco_origem, contrato_origem, saldo_devedor,
	parcela_atual, protocolo_banco, erro_banco, data_envio_banco, created_at`

func (s *Store) GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProposal")
	defer span.End()
	span.SetAttributes(attribute.String("proposal.id", proposalID))

	return getOne[domain.Proposal](ctx, s.db, `SELECT `+proposalColumns+` FROM propostas WHERE id = $1`, proposalID)
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetClient")
	defer span.End()

	return getOne[domain.Client](ctx, s.db, `
		SELECT id, company_id, nome, cpf, data_nascimento, telefone, email, matricula, cep, endereco, cidade, uf
		FROM clientes WHERE id = $1`, clientID)
}

func (s *Store) GetBank(ctx context.Context, bankID string) (*domain.Bank, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetBank")
	defer span.End()

	return getOne[domain.Bank](ctx, s.db, `SELECT id, codigo, nome, api_habilitada, api_base_url FROM bancos WHERE id = $1`, bankID)
}

func (s *Store) SaveSubmission(ctx context.Context, rec *domain.SubmissionRecord) error {
	ctx, span := tracer.Start(ctx, "Postgres.SaveSubmission")
	defer span.End()
	span.SetAttributes(attribute.String("proposal.id", rec.ProposalID))

	res, err := s.db.ExecContext(ctx, `
		UPDATE propostas SET
			bank_status      = $1,
			protocolo_banco  = COALESCE($2, protocolo_banco),
			payload_enviado  = $3,
			resposta_banco   = $4,
			erro_banco       = $5,
			data_envio_banco = $6
		WHERE id = $7
		  AND (protocolo_banco IS NULL OR bank_status = 'nao_enviado')`,
		rec.BankStatus, rec.ProtocoloBanco, nullJSON(rec.PayloadEnviado), nullJSON(rec.RespostaBanco),
		rec.ErroBanco, rec.SentAt, rec.ProposalID)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrConflict{Message: "Proposta já enviada ao banco"}
	}
	return nil
}

func (s *Store) UpdateBankStatus(ctx context.Context, proposalID string, status domain.BankStatus) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateBankStatus")
	defer span.End()

	if !status.Valid() {
		return &domain.ErrValidation{Field: "bank_status", Message: fmt.Sprintf("status bancário inválido: %s", status)}
	}

	_, err := s.db.ExecContext(ctx, `UPDATE propostas SET bank_status = $1 WHERE id = $2`, status, proposalID)
	return err
}

// ============================================================
// SalesStore / AuditLogger
// ============================================================

func (s *Store) ListSales(ctx context.Context, companyID string, from, to time.Time) ([]domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListSales")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	sales := []domain.Sale{}
	err := s.db.SelectContext(ctx, &sales, `
		SELECT v.id, v.company_id, v.user_id, COALESCE(p.full_name, '') AS seller_name,
		       v.valor, v.percentual_comissao, v.data_venda
		FROM vendas v
		LEFT JOIN profiles p ON p.user_id = v.user_id
		WHERE v.company_id = $1 AND v.data_venda >= $2 AND v.data_venda < $3
		ORDER BY v.data_venda`,
		companyID, from, to)
	return sales, err
}

func (s *Store) InsertAuditLog(ctx context.Context, entry *domain.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "Postgres.InsertAuditLog")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, company_id, action, resource_type, resource_id, old_data, new_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.UserID, entry.CompanyID, entry.Action, entry.ResourceType, entry.ResourceID,
		nullJSON(entry.OldData), nullJSON(entry.NewData))
	return err
}

// nullJSON passes empty documents as SQL NULL and the rest as text for jsonb.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
