package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/billing/internal/portal/app"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

func (c *CLI) addBillingCommands() {
	plansCmd := &cobra.Command{
		Use:   "plans [plan-id]",
		Short: "List subscription plans, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				planID, err := parseID(args[0], "plan")
				if err != nil {
					return err
				}
				plan, err := a.Billing().GetPlan(cmd.Context(), planID)
				if err != nil {
					return err
				}
				return p.value(plan, func() {
					p.heading(plan.Name)
					p.fields(
						"ID", idString(plan.ID),
						"Price", money(plan.Price),
						"Duration", days(plan.DurationDays),
						"Usage limit", idString(plan.UsageLimit),
						"Description", plan.Description,
					)
				})
			}

			plans, err := a.Billing().ListPlans(cmd.Context())
			if err != nil {
				return err
			}
			return p.value(plans, func() {
				rows := make([][]string, 0, len(plans))
				for _, pl := range plans {
					rows = append(rows, []string{idString(pl.ID), pl.Name, money(pl.Price), days(pl.DurationDays)})
				}
				p.table([]string{"ID", "Plan", "Price", "Duration"}, rows)
			})
		}),
	}

	c.root.AddCommand(plansCmd, c.subscriptionCommand(), c.invoicesCommand(), c.paymentsCommand(),
		c.notificationsCommand(), c.discountsCommand(), c.cycleCommand(), c.usageCommand())
}

func (c *CLI) subscriptionCommand() *cobra.Command {
	subCmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Manage the customer's subscription",
	}

	activeCmd := &cobra.Command{
		Use:   "active",
		Short: "Show the active subscription",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			active, err := a.Billing().ActiveSubscription(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(active, func() {
				if !active.HasActivePlan {
					fmt.Fprintln(p.w, p.warn.Render("No active subscription"))
					p.fields("Note", active.Message)
					return
				}
				p.heading(active.PlanName)
				p.fields(
					"Subscription", idString(active.SubscriptionID),
					"Status", active.Status,
					"Price", money(active.Price),
					"Started", active.StartDate,
					"Ends", active.EndDate,
				)
			})
		}),
	}

	var req billingsdk.SubscribeRequest
	subscribeCmd := &cobra.Command{
		Use:   "subscribe <plan-id>",
		Short: "Subscribe to a plan",
		Args:  cobra.ExactArgs(1),
	}
	subscribeCmd.Flags().StringVar(&req.PaymentMethod, "method", "", "payment method (default CREDIT_CARD)")
	subscribeCmd.Flags().StringVar(&req.DiscountCode, "discount", "", "discount code")
	subscribeCmd.RunE = c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
		planID, err := parseID(args[0], "plan")
		if err != nil {
			return err
		}
		req.PlanID = planID
		sub, err := a.Billing().Subscribe(cmd.Context(), req)
		if err != nil {
			return err
		}
		return c.printSubscription(cmd, "Subscribed", sub)
	})

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active subscription",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			sub, err := a.Billing().CancelSubscription(cmd.Context())
			if err != nil {
				return err
			}
			return c.printSubscription(cmd, "Cancelled", sub)
		}),
	}

	changeCmd := &cobra.Command{
		Use:   "change <plan-id>",
		Short: "Move the subscription to another plan",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
			planID, err := parseID(args[0], "plan")
			if err != nil {
				return err
			}
			sub, err := a.Billing().ChangePlan(cmd.Context(), planID)
			if err != nil {
				return err
			}
			return c.printSubscription(cmd, "Plan changed", sub)
		}),
	}

	subCmd.AddCommand(activeCmd, subscribeCmd, cancelCmd, changeCmd)
	return subCmd
}

func (c *CLI) printSubscription(cmd *cobra.Command, title string, sub *billingsdk.Subscription) error {
	p, err := c.printer(cmd)
	if err != nil {
		return err
	}
	return p.value(sub, func() {
		p.heading(title)
		plan := ""
		if sub.Plan != nil {
			plan = sub.Plan.Name
		}
		var discounted string
		if sub.DiscountedPrice > 0 && sub.DiscountedPrice != sub.OriginalPrice {
			discounted = money(sub.DiscountedPrice)
		}
		p.fields(
			"Subscription", idString(sub.ID),
			"Plan", plan,
			"Status", sub.Status,
			"Method", sub.PaymentMethod,
			"Promo", sub.PromoCode,
			"Discounted", discounted,
			"Ends", sub.EndDate,
		)
	})
}

func (c *CLI) invoicesCommand() *cobra.Command {
	invoicesCmd := &cobra.Command{
		Use:   "invoices",
		Short: "List and settle invoices",
		Args:  cobra.NoArgs,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			invoices, err := a.Billing().ListInvoices(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(invoices, func() {
				rows := make([][]string, 0, len(invoices))
				for _, inv := range invoices {
					rows = append(rows, []string{idString(inv.ID), inv.PlanName, money(inv.Amount), inv.DueDate, inv.Status})
				}
				p.table([]string{"ID", "Plan", "Amount", "Due", "Status"}, rows)
			})
		}),
	}
	invoicesCmd.RunE = listCmd.RunE

	var pay billingsdk.PaymentRequest
	payCmd := &cobra.Command{
		Use:   "pay <invoice-id>",
		Short: "Submit a payment for an invoice",
		Args:  cobra.ExactArgs(1),
	}
	payCmd.Flags().StringVar(&pay.PaymentMethod, "method", "", "payment method (default CREDIT_CARD)")
	payCmd.Flags().Float64Var(&pay.Amount, "amount", 0, "amount to pay")
	payCmd.Flags().StringVar(&pay.TransactionID, "transaction", "", "transaction id (generated when omitted)")
	payCmd.RunE = c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
		invoiceID, err := parseID(args[0], "invoice")
		if err != nil {
			return err
		}
		pay.InvoiceID = invoiceID
		payment, err := a.Billing().SubmitPayment(cmd.Context(), pay)
		if err != nil {
			return err
		}
		return c.printPayment(cmd, "Payment submitted", payment)
	})

	markCmd := &cobra.Command{
		Use:   "mark-paid <invoice-id>",
		Short: "Mark an invoice as paid",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
			invoiceID, err := parseID(args[0], "invoice")
			if err != nil {
				return err
			}
			inv, err := a.Billing().MarkInvoicePaid(cmd.Context(), invoiceID)
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(inv, func() {
				p.heading("Invoice " + idString(inv.ID))
				p.fields("Status", inv.Status, "Amount", money(inv.Amount))
			})
		}),
	}

	invoicesCmd.AddCommand(listCmd, payCmd, markCmd)
	return invoicesCmd
}

func (c *CLI) paymentsCommand() *cobra.Command {
	paymentsCmd := &cobra.Command{
		Use:   "payments",
		Short: "Inspect payments",
	}

	statusCmd := &cobra.Command{
		Use:   "status <transaction-id>",
		Short: "Show a payment by transaction id",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
			payment, err := a.Billing().PaymentStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printPayment(cmd, "Payment "+args[0], payment)
		}),
	}

	methodsCmd := &cobra.Command{
		Use:   "methods",
		Short: "List accepted payment methods",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			methods, err := a.Billing().PaymentMethods(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(methods, func() {
				for _, m := range methods {
					fmt.Fprintln(p.w, m)
				}
			})
		}),
	}

	paymentsCmd.AddCommand(statusCmd, methodsCmd)
	return paymentsCmd
}

func (c *CLI) printPayment(cmd *cobra.Command, title string, payment *billingsdk.Payment) error {
	p, err := c.printer(cmd)
	if err != nil {
		return err
	}
	return p.value(payment, func() {
		p.heading(title)
		var amount string
		if payment.Amount > 0 {
			amount = money(payment.Amount)
		}
		p.fields(
			"Invoice", idString(payment.InvoiceID),
			"Transaction", payment.TransactionID,
			"Status", payment.Status,
			"Method", payment.Method,
			"Amount", amount,
			"Message", payment.Message,
		)
	})
}

func (c *CLI) notificationsCommand() *cobra.Command {
	var unread bool
	notificationsCmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		Args:  cobra.NoArgs,
	}
	notificationsCmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	notificationsCmd.RunE = c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
		list := a.Billing().Notifications
		if unread {
			list = a.Billing().UnreadNotifications
		}
		notes, err := list(cmd.Context())
		if err != nil {
			return err
		}
		p, err := c.printer(cmd)
		if err != nil {
			return err
		}
		return p.value(notes, func() {
			rows := make([][]string, 0, len(notes))
			for _, n := range notes {
				rows = append(rows, []string{idString(n.ID), n.Type, n.Message, yesNo(n.Read())})
			}
			p.table([]string{"ID", "Type", "Message", "Read"}, rows)
		})
	})

	readCmd := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, args []string) error {
			noteID, err := parseID(args[0], "notification")
			if err != nil {
				return err
			}
			if _, err := a.Billing().MarkNotificationRead(cmd.Context(), noteID); err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.message("Notification %d marked read", noteID)
		}),
	}

	notificationsCmd.AddCommand(readCmd)
	return notificationsCmd
}

func (c *CLI) discountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discounts",
		Short: "List available discounts",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			discounts, err := a.Billing().ListDiscounts(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(discounts, func() {
				rows := make([][]string, 0, len(discounts))
				for _, d := range discounts {
					rows = append(rows, []string{d.Code, d.Name, d.Type, strconv.FormatFloat(d.Amount, 'f', -1, 64), d.EndDate})
				}
				p.table([]string{"Code", "Name", "Type", "Amount", "Ends"}, rows)
			})
		}),
	}
}

func (c *CLI) cycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Show the current billing cycle",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, a *app.Application, _ []string) error {
			cycle, err := a.Billing().BillingCycle(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(cycle, func() {
				p.heading("Billing cycle")
				p.fields(
					"Plan", cycle.CurrentPlan,
					"Price", money(cycle.PlanPrice),
					"Starts", cycle.CycleStart,
					"Ends", cycle.CycleEnd,
					"Next bill", cycle.NextBillingDate,
					"Days left", strconv.FormatInt(cycle.DaysRemaining, 10),
					"Status", cycle.Status,
				)
			})
		}),
	}
}

func (c *CLI) usageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show recorded usage",
		Args:  cobra.NoArgs,
		RunE: c.withRoles(usageRoles, func(cmd *cobra.Command, a *app.Application, _ []string) error {
			usage, err := a.Billing().UsageSummary(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.printer(cmd)
			if err != nil {
				return err
			}
			return p.value(usage, func() {
				rows := make([][]string, 0, len(usage.Records))
				for _, r := range usage.Records {
					rows = append(rows, []string{idString(r.ID), r.Amount, r.Date, r.Details})
				}
				p.table([]string{"ID", "Amount", "Date", "Details"}, rows)
			})
		}),
	}
}

// usageRoles may read metered usage.
var usageRoles = []string{"USER", "ADMIN", "ROLE_USER", "ROLE_ADMIN"}

func parseID(s, what string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return v, nil
}

func days(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10) + " days"
}
