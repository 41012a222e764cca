package billingsdk

import (
	"bytes"
	"encoding/json"
)

// Plan is a subscription plan offered by the backend.
type Plan struct {
	ID           int64   `json:"subscriptionPlanId"`
	Name         string  `json:"subscriptionPlanName"`
	Description  string  `json:"subscriptionPlanDescription,omitempty"`
	Price        float64 `json:"subscriptionPlanPrice"`
	DurationDays int64   `json:"subscriptionPlanDuration,omitempty"`
	UsageLimit   int64   `json:"usageLimit,omitempty"`
}

func (p *Plan) UnmarshalJSON(b []byte) error {
	var w struct {
		ID             flexInt    `json:"subscriptionPlanId"`
		AltID          flexInt    `json:"id"`
		Name           flexString `json:"subscriptionPlanName"`
		AltName        flexString `json:"name"`
		Description    flexString `json:"subscriptionPlanDescription"`
		AltDescription flexString `json:"description"`
		Price          flexFloat  `json:"subscriptionPlanPrice"`
		AltPrice       flexFloat  `json:"price"`
		Duration       flexInt    `json:"subscriptionPlanDuration"`
		AltDuration    flexInt    `json:"duration"`
		UsageLimit     flexInt    `json:"usageLimit"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = Plan{
		ID:           int64(firstNonZero(w.ID, w.AltID)),
		Name:         firstNonEmpty(w.Name.String(), w.AltName.String()),
		Description:  firstNonEmpty(w.Description.String(), w.AltDescription.String()),
		Price:        float64(firstNonZero(w.Price, w.AltPrice)),
		DurationDays: int64(firstNonZero(w.Duration, w.AltDuration)),
		UsageLimit:   int64(w.UsageLimit),
	}
	return nil
}

// ActiveSubscription describes the customer's current plan. HasActivePlan
// is false when the customer is not subscribed.
type ActiveSubscription struct {
	HasActivePlan  bool    `json:"hasActivePlan"`
	SubscriptionID int64   `json:"subscriptionId,omitempty"`
	PlanID         int64   `json:"planId,omitempty"`
	PlanName       string  `json:"planName,omitempty"`
	Price          float64 `json:"price,omitempty"`
	Status         string  `json:"status,omitempty"`
	StartDate      string  `json:"startDate,omitempty"`
	EndDate        string  `json:"endDate,omitempty"`
	Description    string  `json:"description,omitempty"`
	DurationDays   int64   `json:"duration,omitempty"`
	Message        string  `json:"message,omitempty"`
}

func (a *ActiveSubscription) UnmarshalJSON(b []byte) error {
	var w struct {
		HasActivePlan  bool       `json:"hasActivePlan"`
		SubscriptionID flexInt    `json:"subscriptionId"`
		PlanID         flexInt    `json:"planId"`
		PlanName       flexString `json:"planName"`
		Price          flexFloat  `json:"price"`
		Status         flexString `json:"status"`
		StartDate      flexString `json:"startDate"`
		EndDate        flexString `json:"endDate"`
		Description    flexString `json:"description"`
		Duration       flexInt    `json:"duration"`
		Message        flexString `json:"message"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = ActiveSubscription{
		HasActivePlan:  w.HasActivePlan,
		SubscriptionID: int64(w.SubscriptionID),
		PlanID:         int64(w.PlanID),
		PlanName:       w.PlanName.String(),
		Price:          float64(w.Price),
		Status:         w.Status.String(),
		StartDate:      w.StartDate.String(),
		EndDate:        w.EndDate.String(),
		Description:    w.Description.String(),
		DurationDays:   int64(w.Duration),
		Message:        w.Message.String(),
	}
	return nil
}

// Subscription is a customer's subscription record as returned by create,
// cancel and change-plan.
type Subscription struct {
	ID              int64   `json:"subscriptionId"`
	Status          string  `json:"status,omitempty"`
	StartDate       string  `json:"startDate,omitempty"`
	EndDate         string  `json:"endDate,omitempty"`
	PaymentMethod   string  `json:"paymentMethod,omitempty"`
	PromoCode       string  `json:"promoCode,omitempty"`
	OriginalPrice   float64 `json:"originalPrice,omitempty"`
	DiscountedPrice float64 `json:"discountedPrice,omitempty"`
	Plan            *Plan   `json:"subscriptionPlan,omitempty"`
}

func (s *Subscription) UnmarshalJSON(b []byte) error {
	var w struct {
		ID              flexInt    `json:"subscriptionId"`
		AltID           flexInt    `json:"id"`
		Status          flexString `json:"status"`
		StartDate       flexString `json:"startDate"`
		EndDate         flexString `json:"endDate"`
		PaymentMethod   flexString `json:"paymentMethod"`
		PromoCode       flexString `json:"promoCode"`
		OriginalPrice   flexFloat  `json:"originalPrice"`
		DiscountedPrice flexFloat  `json:"discountedPrice"`
		Plan            *Plan      `json:"subscriptionPlan"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = Subscription{
		ID:              int64(firstNonZero(w.ID, w.AltID)),
		Status:          w.Status.String(),
		StartDate:       w.StartDate.String(),
		EndDate:         w.EndDate.String(),
		PaymentMethod:   w.PaymentMethod.String(),
		PromoCode:       w.PromoCode.String(),
		OriginalPrice:   float64(w.OriginalPrice),
		DiscountedPrice: float64(w.DiscountedPrice),
		Plan:            w.Plan,
	}
	return nil
}

// SubscribeRequest starts a subscription for the session's customer.
type SubscribeRequest struct {
	PlanID        int64
	PaymentMethod string
	DiscountCode  string
}

// Discount is a promotion the backend can apply to a subscription.
type Discount struct {
	ID         int64   `json:"discountId"`
	Name       string  `json:"discountName"`
	Type       string  `json:"discountType,omitempty"`
	Amount     float64 `json:"discountAmount"`
	Code       string  `json:"discountCode,omitempty"`
	StartDate  string  `json:"startDate,omitempty"`
	EndDate    string  `json:"endDate,omitempty"`
	UsageLimit int64   `json:"usageLimit,omitempty"`
	Status     string  `json:"status,omitempty"`
}

func (d *Discount) UnmarshalJSON(b []byte) error {
	var w struct {
		ID         flexInt    `json:"discountId"`
		AltID      flexInt    `json:"id"`
		Name       flexString `json:"discountName"`
		AltName    flexString `json:"description"`
		Type       flexString `json:"discountType"`
		Amount     flexFloat  `json:"discountAmount"`
		AltAmount  flexFloat  `json:"discountValue"`
		Code       flexString `json:"discountCode"`
		AltCode    flexString `json:"code"`
		StartDate  flexString `json:"startDate"`
		EndDate    flexString `json:"endDate"`
		UsageLimit flexInt    `json:"usageLimit"`
		Status     flexString `json:"status"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*d = Discount{
		ID:         int64(firstNonZero(w.ID, w.AltID)),
		Name:       firstNonEmpty(w.Name.String(), w.AltName.String()),
		Type:       w.Type.String(),
		Amount:     float64(firstNonZero(w.Amount, w.AltAmount)),
		Code:       firstNonEmpty(w.Code.String(), w.AltCode.String()),
		StartDate:  w.StartDate.String(),
		EndDate:    w.EndDate.String(),
		UsageLimit: int64(w.UsageLimit),
		Status:     w.Status.String(),
	}
	return nil
}

// BillingCycle is the customer's current billing period.
type BillingCycle struct {
	UserID          int64   `json:"userId"`
	CustomerName    string  `json:"customerName,omitempty"`
	CurrentPlan     string  `json:"currentPlan,omitempty"`
	PlanPrice       float64 `json:"planPrice"`
	CycleStart      string  `json:"billingCycleStart,omitempty"`
	CycleEnd        string  `json:"billingCycleEnd,omitempty"`
	NextBillingDate string  `json:"nextBillingDate,omitempty"`
	Status          string  `json:"billingStatus,omitempty"`
	DaysRemaining   int64   `json:"daysRemaining"`
}

func (c *BillingCycle) UnmarshalJSON(b []byte) error {
	var w struct {
		UserID          flexInt    `json:"userId"`
		CustomerName    flexString `json:"customerName"`
		CurrentPlan     flexString `json:"currentPlan"`
		PlanPrice       flexFloat  `json:"planPrice"`
		CycleStart      flexString `json:"billingCycleStart"`
		CycleEnd        flexString `json:"billingCycleEnd"`
		NextBillingDate flexString `json:"nextBillingDate"`
		Status          flexString `json:"billingStatus"`
		DaysRemaining   flexInt    `json:"daysRemaining"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = BillingCycle{
		UserID:          int64(w.UserID),
		CustomerName:    w.CustomerName.String(),
		CurrentPlan:     w.CurrentPlan.String(),
		PlanPrice:       float64(w.PlanPrice),
		CycleStart:      w.CycleStart.String(),
		CycleEnd:        w.CycleEnd.String(),
		NextBillingDate: w.NextBillingDate.String(),
		Status:          w.Status.String(),
		DaysRemaining:   int64(w.DaysRemaining),
	}
	return nil
}

// Invoice is a billed period. Amounts are exactly what the backend sent;
// no discount is inferred client-side.
type Invoice struct {
	ID              int64   `json:"invoiceId"`
	CustomerName    string  `json:"customerName,omitempty"`
	PlanName        string  `json:"planName,omitempty"`
	Amount          float64 `json:"invoiceAmount"`
	Date            string  `json:"invoiceDate,omitempty"`
	DueDate         string  `json:"invoiceDueDate,omitempty"`
	Status          string  `json:"invoiceStatus,omitempty"`
	PaymentMethod   string  `json:"paymentMethod,omitempty"`
	DiscountCode    string  `json:"discountCode,omitempty"`
	DiscountName    string  `json:"discountName,omitempty"`
	DiscountAmount  float64 `json:"discountAmount,omitempty"`
	DiscountApplied bool    `json:"discountApplied"`
}

// Paid reports whether the backend marked the invoice paid.
func (i Invoice) Paid() bool { return i.Status == "PAID" }

func (i *Invoice) UnmarshalJSON(b []byte) error {
	var w struct {
		ID              flexInt    `json:"invoiceId"`
		AltID           flexInt    `json:"id"`
		CustomerName    flexString `json:"customerName"`
		PlanName        flexString `json:"planName"`
		Amount          flexFloat  `json:"invoiceAmount"`
		Date            flexString `json:"invoiceDate"`
		DueDate         flexString `json:"invoiceDueDate"`
		Status          flexString `json:"invoiceStatus"`
		AltStatus       flexString `json:"status"`
		PaymentMethod   flexString `json:"paymentMethod"`
		DiscountCode    flexString `json:"discountCode"`
		DiscountName    flexString `json:"discountName"`
		DiscountAmount  flexFloat  `json:"discountAmount"`
		DiscountApplied bool       `json:"discountApplied"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*i = Invoice{
		ID:              int64(firstNonZero(w.ID, w.AltID)),
		CustomerName:    w.CustomerName.String(),
		PlanName:        w.PlanName.String(),
		Amount:          float64(w.Amount),
		Date:            w.Date.String(),
		DueDate:         w.DueDate.String(),
		Status:          firstNonEmpty(w.Status.String(), w.AltStatus.String()),
		PaymentMethod:   w.PaymentMethod.String(),
		DiscountCode:    w.DiscountCode.String(),
		DiscountName:    w.DiscountName.String(),
		DiscountAmount:  float64(w.DiscountAmount),
		DiscountApplied: w.DiscountApplied,
	}
	return nil
}

// PaymentRequest pays an invoice.
type PaymentRequest struct {
	InvoiceID     int64   `json:"invoiceId"`
	PaymentMethod string  `json:"paymentMethod"`
	TransactionID string  `json:"transactionId,omitempty"`
	CustomerID    string  `json:"customerId,omitempty"`
	Amount        float64 `json:"paymentAmount,omitempty"`
}

// Payment is the backend's record of a payment.
type Payment struct {
	ID            int64   `json:"paymentId"`
	InvoiceID     int64   `json:"invoiceId"`
	CustomerName  string  `json:"customerName,omitempty"`
	Amount        float64 `json:"paymentAmount,omitempty"`
	Method        string  `json:"paymentMethod,omitempty"`
	Status        string  `json:"paymentStatus,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
	Date          string  `json:"paymentDate,omitempty"`
	Message       string  `json:"message,omitempty"`
}

func (p *Payment) UnmarshalJSON(b []byte) error {
	var w struct {
		ID            flexInt    `json:"paymentId"`
		InvoiceID     flexInt    `json:"invoiceId"`
		CustomerName  flexString `json:"customerName"`
		Amount        flexFloat  `json:"paymentAmount"`
		Method        flexString `json:"paymentMethod"`
		Status        flexString `json:"paymentStatus"`
		AltStatus     flexString `json:"status"`
		TransactionID flexString `json:"transactionId"`
		Date          flexString `json:"paymentDate"`
		Message       flexString `json:"message"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = Payment{
		ID:            int64(w.ID),
		InvoiceID:     int64(w.InvoiceID),
		CustomerName:  w.CustomerName.String(),
		Amount:        float64(w.Amount),
		Method:        w.Method.String(),
		Status:        firstNonEmpty(w.Status.String(), w.AltStatus.String()),
		TransactionID: w.TransactionID.String(),
		Date:          w.Date.String(),
		Message:       w.Message.String(),
	}
	return nil
}

// Notification is a message the backend sent to the customer.
type Notification struct {
	ID        int64  `json:"notificationId"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	Status    string `json:"status,omitempty"`
	Channel   string `json:"channel,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	ReadAt    string `json:"readAt,omitempty"`
}

// Read reports whether the notification has been acknowledged.
func (n Notification) Read() bool { return n.ReadAt != "" || n.Status == "READ" }

func (n *Notification) UnmarshalJSON(b []byte) error {
	var w struct {
		ID        flexInt    `json:"notificationId"`
		Type      flexString `json:"type"`
		Message   flexString `json:"message"`
		Status    flexString `json:"status"`
		Channel   flexString `json:"channel"`
		CreatedAt flexString `json:"createdAt"`
		ReadAt    flexString `json:"readAt"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*n = Notification{
		ID:        int64(w.ID),
		Type:      w.Type.String(),
		Message:   w.Message.String(),
		Status:    w.Status.String(),
		Channel:   w.Channel.String(),
		CreatedAt: w.CreatedAt.String(),
		ReadAt:    w.ReadAt.String(),
	}
	return nil
}

// UsageRecord is one tracked usage entry for the customer.
type UsageRecord struct {
	ID      int64  `json:"usageDataId"`
	Amount  string `json:"usageDataAmount"`
	PlanID  int64  `json:"planId,omitempty"`
	Date    string `json:"usageDataDate,omitempty"`
	Details string `json:"usageDetails,omitempty"`
}

func (u *UsageRecord) UnmarshalJSON(b []byte) error {
	var w struct {
		ID         flexInt    `json:"usageDataId"`
		Amount     flexString `json:"usageDataAmount"`
		PlanID     flexInt    `json:"plain_id"`
		AltPlanID  flexInt    `json:"planId"`
		Date       flexString `json:"usageDataDate"`
		Details    flexString `json:"usagedetails"`
		AltDetails flexString `json:"usageDetails"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*u = UsageRecord{
		ID:      int64(w.ID),
		Amount:  w.Amount.String(),
		PlanID:  int64(firstNonZero(w.PlanID, w.AltPlanID)),
		Date:    w.Date.String(),
		Details: firstNonEmpty(w.Details.String(), w.AltDetails.String()),
	}
	return nil
}

// UsageSummary groups the customer's usage records.
type UsageSummary struct {
	CustomerID string        `json:"customerId"`
	Records    []UsageRecord `json:"records"`
}

// decodeList unwraps list endpoints that answer either with a bare array
// or with an object carrying the array under one of several keys.
func decodeList[T any](data []byte, keys ...string) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var out []T
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if raw, ok := obj[k]; ok {
			return decodeList[T](raw)
		}
	}
	return nil, nil
}

func firstNonZero[T flexInt | flexFloat](values ...T) T {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
