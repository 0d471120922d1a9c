package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/api/middleware"
	"github.com/schooldesk/schooldesk-backend/api/responses"
	"github.com/schooldesk/schooldesk-backend/api/validators"
	"github.com/schooldesk/schooldesk-backend/internal/invoices"
	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/money"
)

const dateLayout = "2006-01-02"

type createInvoiceRequest struct {
	StudentID   string  `json:"student_id" validate:"required,uuid"`
	Term        string  `json:"term" validate:"required,min=1,max=64"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=512"`
	Amount      string  `json:"amount" validate:"required"`
	DueDate     string  `json:"due_date" validate:"required"`
	Issue       bool    `json:"issue,omitempty"`
}

// InvoiceResponse is the wire shape of an invoice. Amounts are decimal
// strings; cents never leave the service layer raw.
type InvoiceResponse struct {
	ID            uuid.UUID  `json:"id"`
	StudentID     uuid.UUID  `json:"student_id"`
	Term          string     `json:"term"`
	Description   *string    `json:"description,omitempty"`
	Amount        string     `json:"amount"`
	PaidAmount    string     `json:"paid_amount"`
	Balance       string     `json:"balance"`
	DueDate       string     `json:"due_date"`
	Status        string     `json:"status"`
	PaidOn        *time.Time `json:"paid_on,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toInvoiceResponse(invoice *models.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            invoice.ID,
		StudentID:     invoice.StudentID,
		Term:          invoice.Term,
		Description:   invoice.Description,
		Amount:        money.FormatCents(invoice.AmountCents),
		PaidAmount:    money.FormatCents(invoice.PaidAmountCents),
		Balance:       money.FormatCents(invoice.BalanceCents()),
		DueDate:       invoice.DueDate.Format(dateLayout),
		Status:        invoice.Status.String(),
		PaidOn:        invoice.PaidOn,
		TransactionID: invoice.TransactionID,
		IssuedAt:      invoice.IssuedAt,
		CancelledAt:   invoice.CancelledAt,
		CreatedAt:     invoice.CreatedAt,
	}
}

func toInvoiceResponses(list []models.Invoice) []InvoiceResponse {
	out := make([]InvoiceResponse, 0, len(list))
	for i := range list {
		out = append(out, toInvoiceResponse(&list[i]))
	}
	return out
}

// InvoiceCreate registers a new fee invoice, optionally issuing it at once.
func InvoiceCreate(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createInvoiceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		studentID, err := uuid.Parse(req.StudentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid student id"))
			return
		}
		amountCents, err := money.ParseCents(req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid amount"))
			return
		}
		dueDate, err := time.ParseInLocation(dateLayout, req.DueDate, time.UTC)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "due date must be YYYY-MM-DD"))
			return
		}

		invoice, err := svc.Create(r.Context(), invoices.CreateInvoiceInput{
			StudentID:   studentID,
			Term:        req.Term,
			Description: req.Description,
			AmountCents: amountCents,
			DueDate:     dueDate,
			Issue:       req.Issue,
			ActorUserID: actorID(r),
			ActorRole:   middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toInvoiceResponse(invoice))
	}
}

// InvoiceGet returns a single invoice by id.
func InvoiceGet(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID, err := parseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.GetByID(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInvoiceResponse(invoice))
	}
}

// StudentInvoices lists all invoices for one student, oldest due date first.
func StudentInvoices(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID, err := parseUUIDParam(r, "studentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListByStudent(r.Context(), studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInvoiceResponses(list))
	}
}

// InvoiceIssue moves a draft invoice into the collectible state.
func InvoiceIssue(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID, err := parseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.Issue(r.Context(), invoices.IssueInvoiceInput{
			InvoiceID:   invoiceID,
			ActorUserID: actorID(r),
			ActorRole:   middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInvoiceResponse(invoice))
	}
}

// InvoiceCancel withdraws an invoice. Paid invoices are refused.
func InvoiceCancel(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID, err := parseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.Cancel(r.Context(), invoices.CancelInvoiceInput{
			InvoiceID:   invoiceID,
			ActorUserID: actorID(r),
			ActorRole:   middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInvoiceResponse(invoice))
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name)
	}
	return id, nil
}

func actorID(r *http.Request) uuid.UUID {
	raw := middleware.UserIDFromContext(r.Context())
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
