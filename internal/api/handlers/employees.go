package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"estatecrm/internal/core"
	"estatecrm/internal/types"
)

// EmployeeStore is the employee repository subset the handler uses.
type EmployeeStore interface {
	Insert(ctx context.Context, e *types.Employee) error
	GetByID(ctx context.Context, id string) (*types.Employee, error)
	List(ctx context.Context) ([]*types.Employee, error)
}

// EmployeeHandler manages the employee directory that notifications and
// assignments resolve recipients against.
type EmployeeHandler struct {
	store     EmployeeStore
	validator *core.Validator
	clock     types.Clock
	logger    types.Logger
}

// NewEmployeeHandler creates an EmployeeHandler.
func NewEmployeeHandler(store EmployeeStore, val *core.Validator, clock types.Clock, logger types.Logger) *EmployeeHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &EmployeeHandler{store: store, validator: val, clock: clock, logger: logger}
}

// RegisterRoutes mounts the employee endpoints.
func (h *EmployeeHandler) RegisterRoutes(r chi.Router) {
	r.Route("/employees", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{employeeID}", h.HandleGet)
	})
}

// createEmployeeRequest registers a new employee.
type createEmployeeRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=employee manager admin"`
}

// HandleCreate handles POST /v1/employees.
func (h *EmployeeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEmployeeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to hash password", err))
		return
	}

	employee := &types.Employee{
		ID:           "emp_" + uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         types.EmployeeRole(req.Role),
		Active:       true,
		CreatedAt:    h.clock.Now(),
	}
	if err := h.store.Insert(r.Context(), employee); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: employee})
}

// HandleGet handles GET /v1/employees/{employeeID}.
func (h *EmployeeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	employee, err := h.store.GetByID(r.Context(), chi.URLParam(r, "employeeID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: employee})
}

// HandleList handles GET /v1/employees.
func (h *EmployeeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	employees, err := h.store.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: employees})
}
