package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// OperatorRepository manages operator accounts.
type OperatorRepository interface {
	Create(ctx context.Context, operator *domain.Operator) error
	GetByID(ctx context.Context, id string) (*domain.Operator, error)
	GetByEmail(ctx context.Context, email string) (*domain.Operator, error)
	List(ctx context.Context) ([]domain.Operator, error)
	Update(ctx context.Context, operator *domain.Operator) error
	SetActive(ctx context.Context, id string, active bool) error
}

type operatorRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorRepository instantiates repository.
func NewOperatorRepository(pool *pgxpool.Pool) OperatorRepository {
	return &operatorRepository{pool: pool}
}

func (r *operatorRepository) Create(ctx context.Context, operator *domain.Operator) error {
	const query = `
        INSERT INTO operators (email, name, password_hash, role)
        VALUES ($1,$2,$3,$4)
        RETURNING id, active, created_at, updated_at`
	if operator.Role == "" {
		operator.Role = domain.OperatorRoleAgent
	}
	return r.pool.QueryRow(ctx, query,
		operator.Email,
		operator.Name,
		operator.PasswordHash,
		operator.Role,
	).Scan(&operator.ID, &operator.Active, &operator.CreatedAt, &operator.UpdatedAt)
}

func (r *operatorRepository) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	const query = `SELECT id, email, name, password_hash, role, active, created_at, updated_at FROM operators WHERE id=$1`
	return r.scanOne(ctx, query, id)
}

func (r *operatorRepository) GetByEmail(ctx context.Context, email string) (*domain.Operator, error) {
	const query = `SELECT id, email, name, password_hash, role, active, created_at, updated_at FROM operators WHERE email=$1`
	return r.scanOne(ctx, query, email)
}

func (r *operatorRepository) List(ctx context.Context) ([]domain.Operator, error) {
	const query = `SELECT id, email, name, password_hash, role, active, created_at, updated_at FROM operators ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Operator
	for rows.Next() {
		var operator domain.Operator
		if err := rows.Scan(
			&operator.ID,
			&operator.Email,
			&operator.Name,
			&operator.PasswordHash,
			&operator.Role,
			&operator.Active,
			&operator.CreatedAt,
			&operator.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, operator)
	}
	return result, rows.Err()
}

func (r *operatorRepository) Update(ctx context.Context, operator *domain.Operator) error {
	const query = `
        UPDATE operators
        SET name=$1, password_hash=$2, role=$3, active=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		operator.Name,
		operator.PasswordHash,
		operator.Role,
		operator.Active,
		operator.ID,
	).Scan(&operator.UpdatedAt)
}

func (r *operatorRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE operators SET active=$1, updated_at=NOW() WHERE id=$2`
	tag, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *operatorRepository) scanOne(ctx context.Context, query string, arg any) (*domain.Operator, error) {
	var operator domain.Operator
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&operator.ID,
		&operator.Email,
		&operator.Name,
		&operator.PasswordHash,
		&operator.Role,
		&operator.Active,
		&operator.CreatedAt,
		&operator.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &operator, nil
}
