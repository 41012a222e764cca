package billingsdk

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/billing/internal/backendtest"
)

func newTestBilling(t *testing.T) (*Billing, *Session, *backendtest.Backend) {
	t.Helper()
	backend := backendtest.New(t)
	s := newTestSession(t, backend.URL, NewMemoryChannel("test"))
	login(t, s)
	return NewBilling(s), s, backend
}

func TestBillingPlans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _, _ := newTestBilling(t)

	plans, err := b.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, "Basic", plans[0].Name)
	require.InDelta(t, 29.99, plans[1].Price, 0.001)

	plan, err := b.GetPlan(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "Pro", plan.Name)
	require.EqualValues(t, 10000, plan.UsageLimit)

	_, err = b.GetPlan(ctx, 99)
	require.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestBillingSubscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("active subscription", func(t *testing.T) {
		b, _, _ := newTestBilling(t)
		active, err := b.ActiveSubscription(ctx)
		require.NoError(t, err)
		require.True(t, active.HasActivePlan)
		require.Equal(t, "Pro", active.PlanName)
		require.InDelta(t, 29.99, active.Price, 0.001)
	})

	t.Run("subscribe uses the query endpoint", func(t *testing.T) {
		b, _, backend := newTestBilling(t)
		sub, err := b.Subscribe(ctx, SubscribeRequest{PlanID: 1, DiscountCode: "WELCOME10"})
		require.NoError(t, err)
		require.Equal(t, "CREDIT_CARD", sub.PaymentMethod)
		require.Equal(t, "WELCOME10", sub.PromoCode)
		require.Equal(t, "Basic", sub.Plan.Name)
		require.Zero(t, backend.Count("/subscriptions/create"))
	})

	t.Run("subscribe falls back to create", func(t *testing.T) {
		b, _, backend := newTestBilling(t)
		backend.Disable("/subscriptions", http.StatusInternalServerError)

		sub, err := b.Subscribe(ctx, SubscribeRequest{PlanID: 2, PaymentMethod: "PAYPAL"})
		require.NoError(t, err)
		require.Equal(t, "PAYPAL", sub.PaymentMethod)
		require.EqualValues(t, 1, backend.Count("/subscriptions/create"))
	})

	t.Run("cancel and change plan", func(t *testing.T) {
		b, _, _ := newTestBilling(t)
		sub, err := b.CancelSubscription(ctx)
		require.NoError(t, err)
		require.Equal(t, "CANCELLED", sub.Status)

		sub, err = b.ChangePlan(ctx, 1)
		require.NoError(t, err)
		require.EqualValues(t, 1, sub.Plan.ID)
	})

	t.Run("customer scope is enforced by the backend", func(t *testing.T) {
		b, s, _ := newTestBilling(t)
		s.SetCustomerID(ctx, "someone-else")
		_, err := b.BillingCycle(ctx)
		require.Equal(t, http.StatusForbidden, StatusCode(err))
		require.True(t, s.IsLoggedIn(ctx), "403 never ends the session")
	})

	t.Run("no customer id", func(t *testing.T) {
		backend := backendtest.New(t)
		s := newTestSession(t, backend.URL, NewMemoryChannel("test"))
		_, err := NewBilling(s).ListInvoices(ctx)
		require.ErrorIs(t, err, ErrNoCustomerID)
	})
}

func TestBillingInvoicesAndPayments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("list invoices", func(t *testing.T) {
		b, _, _ := newTestBilling(t)
		invoices, err := b.ListInvoices(ctx)
		require.NoError(t, err)
		require.Len(t, invoices, 2)
		require.False(t, invoices[0].Paid())
		require.True(t, invoices[1].Paid())
		require.InDelta(t, 29.99, invoices[0].Amount, 0.001)
	})

	t.Run("mark paid walks the fallback chain", func(t *testing.T) {
		b, _, backend := newTestBilling(t)
		backend.Disable("/billing/invoices/1001/mark-paid", 0)
		backend.Disable("/invoices/1001/mark-paid", http.StatusMethodNotAllowed)

		inv, err := b.MarkInvoicePaid(ctx, 1001)
		require.NoError(t, err)
		require.True(t, inv.Paid())
		require.EqualValues(t, 1001, inv.ID)
		require.Equal(t, StatusPaid, backend.InvoiceStatus("1001"))
		require.EqualValues(t, 1, backend.Count("/billing/invoices/1001/update-status"))
		require.Zero(t, backend.Count("/payments/confirm/1001"))
	})

	t.Run("mark paid reports every failure", func(t *testing.T) {
		b, _, _ := newTestBilling(t)
		_, err := b.MarkInvoicePaid(ctx, 4040)
		require.ErrorContains(t, err, "billing_mark_paid")
		require.ErrorContains(t, err, "payments_confirm")
	})

	t.Run("submit payment generates a transaction id", func(t *testing.T) {
		b, _, backend := newTestBilling(t)
		p, err := b.SubmitPayment(ctx, PaymentRequest{InvoiceID: 1001, PaymentMethod: "CREDIT_CARD", Amount: 29.99})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(p.TransactionID, "TXN-"), p.TransactionID)
		require.Equal(t, StatusPaid, p.Status)
		require.Equal(t, StatusPaid, backend.InvoiceStatus("1001"))
	})

	t.Run("submit payment falls back to the minimal body", func(t *testing.T) {
		b, _, backend := newTestBilling(t)
		backend.Disable("/billing/payments", http.StatusInternalServerError)
		backend.Disable("/payments/process", 0)

		p, err := b.SubmitPayment(ctx, PaymentRequest{InvoiceID: 1001, TransactionID: "TXN-1"})
		require.NoError(t, err)
		require.Equal(t, "TXN-1", p.TransactionID)
		require.EqualValues(t, 1, backend.Count("/billing/invoices/1001/pay"))
	})

	t.Run("status and methods", func(t *testing.T) {
		b, _, _ := newTestBilling(t)
		p, err := b.PaymentStatus(ctx, "TXN-1")
		require.NoError(t, err)
		require.Equal(t, "COMPLETED", p.Status)

		methods, err := b.PaymentMethods(ctx)
		require.NoError(t, err)
		require.Contains(t, methods, "PAYPAL")
	})
}

func TestBillingNotificationsAndUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _, _ := newTestBilling(t)

	all, err := b.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	unread, err := b.UnreadNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.False(t, unread[0].Read())

	n, err := b.MarkNotificationRead(ctx, unread[0].ID)
	require.NoError(t, err)
	require.True(t, n.Read())

	unread, err = b.UnreadNotifications(ctx)
	require.NoError(t, err)
	require.Empty(t, unread)

	discounts, err := b.ListDiscounts(ctx)
	require.NoError(t, err)
	require.Len(t, discounts, 2)
	require.InDelta(t, 5.0, discounts[1].Amount, 0.001)

	cycle, err := b.BillingCycle(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, cycle.UserID)
	require.EqualValues(t, 12, cycle.DaysRemaining)

	usage, err := b.UsageSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, backendtest.CustomerID, usage.CustomerID)
	require.Len(t, usage.Records, 2)
	require.EqualValues(t, 2, usage.Records[0].PlanID)
	require.Equal(t, "api calls", usage.Records[0].Details)
}
