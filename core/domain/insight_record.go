package domain

// InsightRecord is the structured financial content of one email.
// A nil sub-record means the extractor did not detect it.
type InsightRecord struct {
	EmailID      string        `json:"email_id,omitempty"`
	IsRelevant   bool          `json:"is_relevant"`
	Transaction  *Transaction  `json:"transaction,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Travel       *Travel       `json:"travel,omitempty"`
	Bills        *Bills        `json:"bills,omitempty"`
	Investment   *Investment   `json:"investment,omitempty"`
	Income       *Income       `json:"income,omitempty"`
	CardInfo     *CardInfo     `json:"card_info,omitempty"`
}

// Transaction types.
const (
	TransactionExpense  = "expense"
	TransactionIncome   = "income"
	TransactionTransfer = "transfer"
)

type Transaction struct {
	Merchant        string   `json:"merchant,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	Date            string   `json:"date,omitempty"`
	Category        string   `json:"category,omitempty"`
	TransactionType string   `json:"transaction_type,omitempty"`
	CardType        string   `json:"card_type,omitempty"`
	CardLastFour    string   `json:"card_last_four,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

// Billing cycles.
const (
	CycleWeekly  = "weekly"
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

type Subscription struct {
	Service       string   `json:"service,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	BillingCycle  string   `json:"billing_cycle,omitempty"`
	NextBilling   string   `json:"next_billing,omitempty"`
	ChargedToCard *bool    `json:"charged_to_card,omitempty"`
}

type Travel struct {
	Airline       string   `json:"airline,omitempty"`
	Hotel         string   `json:"hotel,omitempty"`
	Destination   string   `json:"destination,omitempty"`
	TravelDate    string   `json:"travel_date,omitempty"`
	BookingAmount *float64 `json:"booking_amount,omitempty"`
	ChargedToCard *bool    `json:"charged_to_card,omitempty"`
}

type Bills struct {
	UtilityType   string   `json:"utility_type,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	DueDate       string   `json:"due_date,omitempty"`
	ChargedToCard *bool    `json:"charged_to_card,omitempty"`
}

// Investment actions.
const (
	InvestmentBuy  = "buy"
	InvestmentSell = "sell"
)

type Investment struct {
	Platform   string   `json:"platform,omitempty"`
	Instrument string   `json:"instrument,omitempty"`
	Action     string   `json:"action,omitempty"`
	Amount     *float64 `json:"amount,omitempty"`
	Date       string   `json:"date,omitempty"`
}

type Income struct {
	Employer string   `json:"employer,omitempty"`
	Amount   *float64 `json:"amount,omitempty"`
	Date     string   `json:"date,omitempty"`
	PayCycle string   `json:"pay_cycle,omitempty"`
}

type CardInfo struct {
	CardStatement   *bool    `json:"card_statement,omitempty"`
	StatementPeriod string   `json:"statement_period,omitempty"`
	TotalAmountDue  *float64 `json:"total_amount_due,omitempty"`
	MinimumDue      *float64 `json:"minimum_due,omitempty"`
	DueDate         string   `json:"due_date,omitempty"`
	AvailableLimit  *float64 `json:"available_limit,omitempty"`
	RewardsEarned   *float64 `json:"rewards_earned,omitempty"`
	CashbackEarned  *float64 `json:"cashback_earned,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// ValueOf dereferences p, treating nil as zero.
func ValueOf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// DetectedTransaction is a purchase found by pattern matching alone,
// without the model. Confidence grows with how much was recognized.
type DetectedTransaction struct {
	EmailID    string  `json:"email_id"`
	Merchant   string  `json:"merchant"`
	Amount     float64 `json:"amount"`
	Date       string  `json:"date"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// TransactionScan is the result of scanning a mailbox for transactions.
type TransactionScan struct {
	Transactions    []DetectedTransaction `json:"transactions"`
	EmailsProcessed int                   `json:"emails_processed"`
}
