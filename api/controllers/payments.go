package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/api/middleware"
	"github.com/schooldesk/schooldesk-backend/api/responses"
	"github.com/schooldesk/schooldesk-backend/api/validators"
	"github.com/schooldesk/schooldesk-backend/internal/payments"
	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/money"
)

type recordPaymentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	Amount    string `json:"amount" validate:"required"`
	Method    string `json:"method" validate:"required,min=1,max=64"`
}

// ReceiptLineResponse is one invoice's share of a payment.
type ReceiptLineResponse struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Applied   string    `json:"applied"`
}

// ReceiptResponse is the wire shape of a receipt. TransactionID mirrors
// the receipt id so clients can correlate stamped invoices.
type ReceiptResponse struct {
	TransactionID uuid.UUID             `json:"transaction_id"`
	StudentID     uuid.UUID             `json:"student_id"`
	Method        string                `json:"method"`
	Amount        string                `json:"amount"`
	Applied       string                `json:"applied"`
	Unapplied     string                `json:"unapplied"`
	PaidOn        time.Time             `json:"paid_on"`
	Lines         []ReceiptLineResponse `json:"lines"`
}

type recordPaymentResponse struct {
	Receipt  ReceiptResponse   `json:"receipt"`
	Invoices []InvoiceResponse `json:"invoices"`
}

func toReceiptResponse(receipt *models.Receipt) ReceiptResponse {
	lines := make([]ReceiptLineResponse, 0, len(receipt.Lines))
	var appliedCents int64
	for _, line := range receipt.Lines {
		appliedCents += line.AppliedCents
		lines = append(lines, ReceiptLineResponse{
			InvoiceID: line.InvoiceID,
			Applied:   money.FormatCents(line.AppliedCents),
		})
	}
	return ReceiptResponse{
		TransactionID: receipt.ID,
		StudentID:     receipt.StudentID,
		Method:        receipt.Method,
		Amount:        money.FormatCents(receipt.AmountCents),
		Applied:       money.FormatCents(appliedCents),
		Unapplied:     money.FormatCents(receipt.UnappliedCents),
		PaidOn:        receipt.PaidOn,
		Lines:         lines,
	}
}

// PaymentRecord accepts a payment and allocates it across the student's
// outstanding invoices.
func PaymentRecord(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordPaymentRequest
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

		result, err := svc.RecordPayment(r.Context(), payments.RecordPaymentInput{
			StudentID:   studentID,
			AmountCents: amountCents,
			Method:      req.Method,
			RecordedBy:  actorID(r),
			ActorRole:   middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, recordPaymentResponse{
			Receipt:  toReceiptResponse(result.Receipt),
			Invoices: toInvoiceResponses(result.Invoices),
		})
	}
}
