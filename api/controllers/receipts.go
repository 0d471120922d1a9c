package controllers

import (
	"net/http"

	"github.com/schooldesk/schooldesk-backend/api/responses"
	"github.com/schooldesk/schooldesk-backend/internal/receipts"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
)

// ReceiptGet returns a single receipt with its allocation breakdown.
func ReceiptGet(svc receipts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		receiptID, err := parseUUIDParam(r, "receiptId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.GetByID(r.Context(), receiptID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReceiptResponse(receipt))
	}
}

// StudentReceipts lists a student's receipts, most recent first.
func StudentReceipts(svc receipts.Service, logg *logger.Logger) http.HandlerFunc {
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

		out := make([]ReceiptResponse, 0, len(list))
		for i := range list {
			out = append(out, toReceiptResponse(&list[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
