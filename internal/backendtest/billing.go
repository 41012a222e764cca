package backendtest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (b *Backend) billingRoutes(r chi.Router) {
	r.Get("/subscriptions/plans", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"code":              200,
			"message":           "ok",
			"subscriptionPlans": plans,
		})
	})
	r.Get("/subscriptions/plans/{planId}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "planId"))
		for _, p := range plans {
			if p["subscriptionPlanId"] == id {
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
		writeError(w, http.StatusNotFound, "Plan not found")
	})

	r.Get("/subscriptions/customer/{customerId}/active", b.customerScoped(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"hasActivePlan":  true,
			"subscriptionId": 9001,
			"planId":         2,
			"planName":       "Pro",
			"price":          "29.99",
			"status":         "ACTIVE",
			"startDate":      "2026-01-01T00:00:00Z",
			"endDate":        "2026-02-01T00:00:00Z",
			"duration":       30,
		})
	}))

	r.Post("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("customerId") != userFromContext(r.Context()).CustomerID {
			writeError(w, http.StatusForbidden, "Customer mismatch")
			return
		}
		planID, _ := strconv.Atoi(q.Get("planId"))
		writeJSON(w, http.StatusOK, subscriptionJSON(planID, q.Get("paymentMethod"), q.Get("discountCode")))
	})
	r.Put("/subscriptions/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PlanID        int    `json:"planId"`
			PaymentMethod string `json:"paymentMethod"`
			DiscountCode  string `json:"discountCode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		writeJSON(w, http.StatusOK, subscriptionJSON(req.PlanID, req.PaymentMethod, req.DiscountCode))
	})
	r.Post("/subscriptions/{customerId}/cancel", b.customerScoped(func(w http.ResponseWriter, _ *http.Request) {
		s := subscriptionJSON(2, "CREDIT_CARD", "")
		s["status"] = "CANCELLED"
		writeJSON(w, http.StatusOK, s)
	}))
	r.Put("/subscriptions/{customerId}/change-plan", b.customerScoped(func(w http.ResponseWriter, r *http.Request) {
		planID, err := strconv.Atoi(r.URL.Query().Get("newPlanId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "newPlanId is required")
			return
		}
		writeJSON(w, http.StatusOK, subscriptionJSON(planID, "CREDIT_CARD", ""))
	}))

	r.Get("/discounts", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"discountId": 1, "discountName": "Welcome", "discountType": "PERCENTAGE", "discountAmount": 10, "discountCode": "WELCOME10", "status": "ACTIVE"},
			{"discountId": 2, "discountName": "Loyalty", "discountType": "FIXED", "discountAmount": "5.00", "discountCode": "LOYAL5", "status": "ACTIVE"},
		})
	})

	r.Get("/billing/cycles/{customerId}", b.customerScoped(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":            userFromContext(r.Context()).CustomerID,
			"customerName":      "Ada Lovelace",
			"currentPlan":       "Pro",
			"planPrice":         29.99,
			"billingCycleStart": "2026-01-01",
			"billingCycleEnd":   "2026-01-31",
			"nextBillingDate":   "2026-02-01",
			"billingStatus":     "ACTIVE",
			"daysRemaining":     12,
		})
	}))
	r.Get("/billing/invoices/user/{customerId}", b.customerScoped(func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		out := make([]map[string]any, 0, len(b.invoices))
		for _, id := range []string{"1001", "1002"} {
			n, _ := strconv.Atoi(id)
			out = append(out, map[string]any{
				"invoiceId":      n,
				"customerName":   "Ada Lovelace",
				"planName":       "Pro",
				"invoiceAmount":  "29.99",
				"invoiceDate":    1767225600000,
				"invoiceDueDate": 1768435200000,
				"invoiceStatus":  b.invoices[id],
				"paymentMethod":  "CREDIT_CARD",
			})
		}
		writeJSON(w, http.StatusOK, out)
	}))

	markPaid := func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "invoiceId")
		b.mu.Lock()
		_, ok := b.invoices[id]
		if ok {
			b.invoices[id] = "PAID"
		}
		b.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		n, _ := strconv.Atoi(id)
		writeJSON(w, http.StatusOK, map[string]any{"invoiceId": n, "invoiceStatus": "PAID"})
	}
	r.Put("/billing/invoices/{invoiceId}/mark-paid", markPaid)
	r.Put("/invoices/{invoiceId}/mark-paid", markPaid)
	r.Put("/billing/invoices/{invoiceId}/update-status", markPaid)
	r.Post("/payments/confirm/{invoiceId}", markPaid)

	pay := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InvoiceID     int    `json:"invoiceId"`
			TransactionID string `json:"transactionId"`
			PaymentMethod string `json:"paymentMethod"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvoiceID == 0 {
			writeError(w, http.StatusBadRequest, "invoiceId is required")
			return
		}
		b.mu.Lock()
		b.invoices[strconv.Itoa(req.InvoiceID)] = "PAID"
		b.seq++
		paymentID := b.seq
		b.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{
			"paymentId":     paymentID,
			"invoiceId":     req.InvoiceID,
			"paymentMethod": req.PaymentMethod,
			"paymentStatus": "PAID",
			"transactionId": req.TransactionID,
		})
	}
	r.Post("/billing/payments", pay)
	r.Post("/payments/process", pay)
	r.Post("/billing/invoices/{invoiceId}/pay", pay)

	r.Get("/payments/status/{transactionId}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"transactionId": chi.URLParam(r, "transactionId"),
			"paymentStatus": "COMPLETED",
		})
	})
	r.Get("/payments/methods", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []string{"CREDIT_CARD", "DEBIT_CARD", "PAYPAL"})
	})

	r.Get("/notifications/customer/{customerId}", b.customerScoped(b.notificationList(false)))
	r.Get("/notifications/customer/{customerId}/unread", b.customerScoped(b.notificationList(true)))
	r.Put("/notifications/{notificationId}/read", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "notificationId"), 10, 64)
		b.mu.Lock()
		_, ok := b.notifications[id]
		b.notifications[id] = true
		b.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "Notification not found")
			return
		}
		writeJSON(w, http.StatusOK, notificationJSON(id, true))
	})

	r.Get("/usageData/track/{customerId}", b.customerScoped(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"errorMessage": "",
			"errorCode":    "200",
			"usageDataEntities": []map[string]any{
				{"usageDataId": 1, "usageDataAmount": "120", "plain_id": 2, "usageDataDate": "2026-01-05", "usagedetails": "api calls"},
				{"usageDataId": 2, "usageDataAmount": "3.5", "plain_id": 2, "usageDataDate": "2026-01-06", "usagedetails": "storage GB"},
			},
		})
	}))
}

var plans = []map[string]any{
	{"subscriptionPlanId": 1, "subscriptionPlanName": "Basic", "subscriptionPlanDescription": "For individuals", "subscriptionPlanPrice": 9.99, "subscriptionPlanDuration": 30, "usageLimit": 1000},
	{"subscriptionPlanId": 2, "subscriptionPlanName": "Pro", "subscriptionPlanDescription": "For teams", "subscriptionPlanPrice": "29.99", "subscriptionPlanDuration": 30, "usageLimit": 10000},
}

func subscriptionJSON(planID int, method, discount string) map[string]any {
	var plan map[string]any
	for _, p := range plans {
		if p["subscriptionPlanId"] == planID {
			plan = p
		}
	}
	return map[string]any{
		"subscriptionId":   9001,
		"status":           "ACTIVE",
		"paymentMethod":    method,
		"promoCode":        discount,
		"subscriptionPlan": plan,
	}
}

func notificationJSON(id int64, read bool) map[string]any {
	n := map[string]any{
		"notificationId": id,
		"type":           "PAYMENT_SUCCESS",
		"message":        "Payment received",
		"status":         "SENT",
		"channel":        "EMAIL",
		"createdAt":      "2026-01-05T10:00:00Z",
	}
	if read {
		n["readAt"] = "2026-01-05T11:00:00Z"
	}
	return n
}

func (b *Backend) notificationList(unreadOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		out := []map[string]any{}
		for _, id := range []int64{1, 2} {
			read := b.notifications[id]
			if unreadOnly && read {
				continue
			}
			out = append(out, notificationJSON(id, read))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// customerScoped rejects requests for another customer's data.
func (b *Backend) customerScoped(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "customerId") != userFromContext(r.Context()).CustomerID {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}
		h(w, r)
	}
}

func contextWithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFromContext(ctx context.Context) User {
	u, _ := ctx.Value(userKey{}).(User)
	return u
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"status": code, "message": msg})
}

// writeBearerError answers 401 with an RFC 6750 challenge.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}
