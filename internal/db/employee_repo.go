package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"estatecrm/internal/types"
)

// EmployeeRepository provides data access for the employees table.
// Employees are the notification recipients; the notification service
// checks existence here before creating anything.
type EmployeeRepository struct {
	db DBTX
}

// NewEmployeeRepository creates an EmployeeRepository.
func NewEmployeeRepository(db DBTX) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// Insert persists a new employee. PasswordHash must already be hashed.
func (r *EmployeeRepository) Insert(ctx context.Context, e *types.Employee) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO employees (id, name, email, password_hash, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Name, e.Email, e.PasswordHash, string(e.Role), e.Active, e.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert employee", err)
	}
	return nil
}

// GetByID fetches a single employee.
func (r *EmployeeRepository) GetByID(ctx context.Context, id string) (*types.Employee, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, email, password_hash, role, active, created_at
		 FROM employees WHERE id = $1`,
		id,
	)
	e, err := scanEmployee(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundEmployee, "employee not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get employee", err)
	}
	return e, nil
}

// Exists reports whether an active employee with the given id exists.
func (r *EmployeeRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1 AND active)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check employee existence", err)
	}
	return exists, nil
}

// List returns all employees, newest first.
func (r *EmployeeRepository) List(ctx context.Context) ([]*types.Employee, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, email, password_hash, role, active, created_at
		 FROM employees ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list employees", err)
	}
	defer rows.Close()

	var results []*types.Employee
	for rows.Next() {
		e, scanErr := scanEmployee(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan employee row", scanErr)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating employee rows", err)
	}
	return results, nil
}

// scanEmployee scans one employee row.
func scanEmployee(row rowScanner) (*types.Employee, error) {
	var (
		e    types.Employee
		role string
	)
	err := row.Scan(&e.ID, &e.Name, &e.Email, &e.PasswordHash, &role, &e.Active, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Role = types.EmployeeRole(role)
	return &e, nil
}
