package billingsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aussiebroadwan/billing/pkg/idx"
)

// StatusPaid is the invoice and payment status the backend uses for
// settled items.
const StatusPaid = "PAID"

// Billing exposes the billing backend through an authenticated Session.
// Customer-scoped calls resolve the customer id from the session and fail
// with ErrNoCustomerID when none is known.
type Billing struct {
	s *Session
}

func NewBilling(s *Session) *Billing {
	return &Billing{s: s}
}

func (b *Billing) customerID(ctx context.Context) (string, error) {
	id, ok := b.s.CustomerID(ctx)
	if !ok {
		return "", ErrNoCustomerID
	}
	return url.PathEscape(id), nil
}

// ListPlans returns every plan on offer.
func (b *Billing) ListPlans(ctx context.Context) ([]Plan, error) {
	var raw json.RawMessage
	if err := b.s.do(ctx, http.MethodGet, "/subscriptions/plans", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Plan](raw, "subscriptionPlans", "plans", "data")
}

func (b *Billing) GetPlan(ctx context.Context, planID int64) (*Plan, error) {
	var raw json.RawMessage
	path := "/subscriptions/plans/" + strconv.FormatInt(planID, 10)
	if err := b.s.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}

	// The single-plan endpoint sometimes wraps its answer in a list.
	if plans, err := decodeList[Plan](raw, "subscriptionPlans"); err == nil && len(plans) > 0 {
		return &plans[0], nil
	}
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &p, nil
}

// ActiveSubscription returns the customer's current plan. A customer
// without one gets HasActivePlan=false and no error.
func (b *Billing) ActiveSubscription(ctx context.Context) (*ActiveSubscription, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	var out ActiveSubscription
	if err := b.s.do(ctx, http.MethodGet, "/subscriptions/customer/"+cid+"/active", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Subscribe starts a subscription. The query-parameter endpoint is tried
// first, then the JSON create endpoint.
func (b *Billing) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	cid, ok := b.s.CustomerID(ctx)
	if !ok {
		return nil, ErrNoCustomerID
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "CREDIT_CARD"
	}

	q := url.Values{}
	q.Set("customerId", cid)
	q.Set("planId", strconv.FormatInt(req.PlanID, 10))
	q.Set("paymentMethod", req.PaymentMethod)
	if req.DiscountCode != "" {
		q.Set("discountCode", req.DiscountCode)
	}

	chain := Fallback[*Subscription]{
		Attempts: []Attempt[*Subscription]{
			{Name: "subscriptions", Do: func(ctx context.Context) (*Subscription, error) {
				var out Subscription
				return &out, b.s.do(ctx, http.MethodPost, "/subscriptions", q, struct{}{}, &out)
			}},
			{Name: "subscriptions_create", Do: func(ctx context.Context) (*Subscription, error) {
				var out Subscription
				body := map[string]any{
					"customerId":    cid,
					"planId":        req.PlanID,
					"paymentMethod": req.PaymentMethod,
				}
				if req.DiscountCode != "" {
					body["discountCode"] = req.DiscountCode
				}
				return &out, b.s.do(ctx, http.MethodPut, "/subscriptions/create", nil, body, &out)
			}},
		},
		OnFailure: b.onFallbackFailure,
	}

	out, used, err := chain.Run(ctx)
	if err != nil {
		return nil, err
	}
	b.s.log.Info("subscription created", "plan_id", req.PlanID, "endpoint", used)
	return out, nil
}

func (b *Billing) CancelSubscription(ctx context.Context) (*Subscription, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	var out Subscription
	if err := b.s.do(ctx, http.MethodPost, "/subscriptions/"+cid+"/cancel", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Billing) ChangePlan(ctx context.Context, newPlanID int64) (*Subscription, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("newPlanId", strconv.FormatInt(newPlanID, 10))

	var out Subscription
	if err := b.s.do(ctx, http.MethodPut, "/subscriptions/"+cid+"/change-plan", q, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Billing) ListDiscounts(ctx context.Context) ([]Discount, error) {
	var raw json.RawMessage
	if err := b.s.do(ctx, http.MethodGet, "/discounts", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Discount](raw, "discounts", "data")
}

func (b *Billing) BillingCycle(ctx context.Context) (*BillingCycle, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	var out BillingCycle
	if err := b.s.do(ctx, http.MethodGet, "/billing/cycles/"+cid, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Billing) ListInvoices(ctx context.Context) ([]Invoice, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := b.s.do(ctx, http.MethodGet, "/billing/invoices/user/"+cid, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Invoice](raw, "invoices", "data")
}

// MarkInvoicePaid settles an invoice, trying each status endpoint the
// backend has exposed over time.
func (b *Billing) MarkInvoicePaid(ctx context.Context, invoiceID int64) (*Invoice, error) {
	id := strconv.FormatInt(invoiceID, 10)
	put := func(path string, body any) func(context.Context) (*Invoice, error) {
		return func(ctx context.Context) (*Invoice, error) {
			var out Invoice
			if err := b.s.do(ctx, http.MethodPut, path, nil, body, &out); err != nil {
				return nil, err
			}
			return &out, nil
		}
	}

	chain := Fallback[*Invoice]{
		Attempts: []Attempt[*Invoice]{
			{Name: "billing_mark_paid", Do: put("/billing/invoices/"+id+"/mark-paid", struct{}{})},
			{Name: "invoices_mark_paid", Do: put("/invoices/"+id+"/mark-paid", map[string]string{"status": StatusPaid})},
			{Name: "update_status", Do: put("/billing/invoices/"+id+"/update-status", map[string]string{"invoiceStatus": StatusPaid})},
			{Name: "payments_confirm", Do: func(ctx context.Context) (*Invoice, error) {
				var out Invoice
				if err := b.s.do(ctx, http.MethodPost, "/payments/confirm/"+id, nil, struct{}{}, &out); err != nil {
					return nil, err
				}
				return &out, nil
			}},
		},
		OnFailure: b.onFallbackFailure,
	}

	out, used, err := chain.Run(ctx)
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		out.ID = invoiceID
	}
	b.s.log.Info("invoice marked paid", "invoice_id", invoiceID, "endpoint", used)
	return out, nil
}

// SubmitPayment pays an invoice. A transaction id is generated when the
// caller has none. The final attempt sends only the fields every backend
// version accepts.
func (b *Billing) SubmitPayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if req.TransactionID == "" {
		req.TransactionID = "TXN-" + idx.New().String()
	}
	if req.CustomerID == "" {
		req.CustomerID, _ = b.s.CustomerID(ctx)
	}
	post := func(path string, body any) func(context.Context) (*Payment, error) {
		return func(ctx context.Context) (*Payment, error) {
			var out Payment
			if err := b.s.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
				return nil, err
			}
			return &out, nil
		}
	}

	id := strconv.FormatInt(req.InvoiceID, 10)
	minimal := map[string]any{
		"invoiceId":     req.InvoiceID,
		"transactionId": req.TransactionID,
		"status":        StatusPaid,
	}

	chain := Fallback[*Payment]{
		Attempts: []Attempt[*Payment]{
			{Name: "billing_payments", Do: post("/billing/payments", req)},
			{Name: "payments_process", Do: post("/payments/process", req)},
			{Name: "invoice_pay", Do: post("/billing/invoices/"+id+"/pay", minimal)},
		},
		OnFailure: b.onFallbackFailure,
	}

	out, used, err := chain.Run(ctx)
	if err != nil {
		return nil, err
	}
	if out.TransactionID == "" {
		out.TransactionID = req.TransactionID
	}
	if out.InvoiceID == 0 {
		out.InvoiceID = req.InvoiceID
	}
	b.s.log.Info("payment submitted", "invoice_id", req.InvoiceID, "transaction_id", out.TransactionID, "endpoint", used)
	return out, nil
}

func (b *Billing) PaymentStatus(ctx context.Context, transactionID string) (*Payment, error) {
	var out Payment
	if err := b.s.do(ctx, http.MethodGet, "/payments/status/"+url.PathEscape(transactionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentMethods lists the payment method identifiers the backend accepts.
func (b *Billing) PaymentMethods(ctx context.Context) ([]string, error) {
	var out []string
	if err := b.s.do(ctx, http.MethodGet, "/payments/methods", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Billing) Notifications(ctx context.Context) ([]Notification, error) {
	return b.notifications(ctx, "")
}

func (b *Billing) UnreadNotifications(ctx context.Context) ([]Notification, error) {
	return b.notifications(ctx, "/unread")
}

func (b *Billing) notifications(ctx context.Context, suffix string) ([]Notification, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := b.s.do(ctx, http.MethodGet, "/notifications/customer/"+cid+suffix, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Notification](raw, "notifications", "data")
}

func (b *Billing) MarkNotificationRead(ctx context.Context, notificationID int64) (*Notification, error) {
	var out Notification
	path := "/notifications/" + strconv.FormatInt(notificationID, 10) + "/read"
	if err := b.s.do(ctx, http.MethodPut, path, nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UsageSummary returns the usage tracked for the customer.
func (b *Billing) UsageSummary(ctx context.Context) (*UsageSummary, error) {
	cid, err := b.customerID(ctx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := b.s.do(ctx, http.MethodGet, "/usageData/track/"+cid, nil, nil, &raw); err != nil {
		return nil, err
	}
	records, err := decodeList[UsageRecord](raw, "usageDataEntities", "records")
	if err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}
	id, _ := b.s.CustomerID(ctx)
	return &UsageSummary{CustomerID: id, Records: records}, nil
}

func (b *Billing) onFallbackFailure(name string, err error) {
	b.s.metrics.fallback(name)
	b.s.log.Warn("billing endpoint failed, trying next", "attempt", name, "error", err)
}
