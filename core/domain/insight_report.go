package domain

// AnalyticsReport is the aggregated view over a list of insight records.
// Every section is always present; empty input yields zero values and empty collections.
type AnalyticsReport struct {
	Spending      SpendingAnalysis     `json:"spending_analysis"`
	Income        IncomeAnalysis       `json:"income_analysis"`
	Subscriptions SubscriptionAnalysis `json:"subscription_analysis"`
	Travel        TravelAnalysis       `json:"travel_analysis"`
	Bills         BillsAnalysis        `json:"bills_analysis"`
	Investments   InvestmentAnalysis   `json:"investment_analysis"`
	Health        FinancialHealth      `json:"financial_health"`
	Summary       ReportSummary        `json:"summary"`
}

// NamedAmount is one entry of a ranked amount list.
type NamedAmount struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// NamedCount is one entry of a ranked frequency list.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type SpendingAnalysis struct {
	TotalSpending            float64            `json:"total_spending"`
	CategoryBreakdown        map[string]float64 `json:"category_breakdown"`
	MonthlyTrend             map[string]float64 `json:"monthly_trend"`
	TopMerchants             []NamedAmount      `json:"top_merchants"`
	AverageMonthlySpending   float64            `json:"average_monthly_spending"`
	HighestSingleTransaction float64            `json:"highest_single_transaction"`
}

type IncomeAnalysis struct {
	TotalIncome          float64            `json:"total_income"`
	Employers            []string           `json:"employers"`
	PayCycles            map[string]int     `json:"pay_cycles"`
	MonthlyIncomeTrend   map[string]float64 `json:"monthly_income_trend"`
	AverageMonthlyIncome float64            `json:"average_monthly_income"`
}

// SubscriptionService is one detected subscription as reported.
type SubscriptionService struct {
	Service      string  `json:"service"`
	Amount       float64 `json:"amount"`
	BillingCycle string  `json:"billing_cycle"`
	NextBilling  string  `json:"next_billing,omitempty"`
}

type SubscriptionAnalysis struct {
	ActiveSubscriptions  int                   `json:"active_subscriptions"`
	MonthlyRecurringCost float64               `json:"monthly_recurring_cost"`
	Services             []SubscriptionService `json:"services"`
	TotalAnnualCost      float64               `json:"total_annual_cost"`
}

type TravelAnalysis struct {
	TotalTrips          int          `json:"total_trips"`
	TotalTravelSpending float64      `json:"total_travel_spending"`
	PreferredAirlines   []NamedCount `json:"preferred_airlines"`
	PreferredHotels     []NamedCount `json:"preferred_hotels"`
	PopularDestinations []NamedCount `json:"popular_destinations"`
	AverageTripCost     float64      `json:"average_trip_cost"`
}

type BillsAnalysis struct {
	TotalBills        int                `json:"total_bills"`
	MonthlyBillAmount float64            `json:"monthly_bill_amount"`
	UtilityBreakdown  map[string]float64 `json:"utility_breakdown"`
	ServiceProviders  []string           `json:"service_providers"`
}

type InvestmentAnalysis struct {
	TotalInvestments    int            `json:"total_investments"`
	InvestmentPlatforms []string       `json:"investment_platforms"`
	InstrumentBreakdown map[string]int `json:"instrument_breakdown"`
	TotalInvested       float64        `json:"total_invested"`
	TotalWithdrawn      float64        `json:"total_withdrawn"`
	NetInvestment       float64        `json:"net_investment"`
}

type FinancialHealth struct {
	SavingsRate                float64 `json:"savings_rate"`
	SubscriptionToSpendingRate float64 `json:"subscription_to_spending_ratio"`
	FinancialHealthScore       int     `json:"financial_health_score"`
	MonthlySurplusDeficit      float64 `json:"monthly_surplus_deficit"`
}

type ReportSummary struct {
	TotalEmailsAnalyzed     int    `json:"total_emails_analyzed"`
	FinancialEmailsFound    int    `json:"financial_emails_found"`
	TransactionsExtracted   int    `json:"transactions_extracted"`
	IncomeEntriesFound      int    `json:"income_entries_found"`
	SubscriptionsIdentified int    `json:"subscriptions_identified"`
	TravelBookingsFound     int    `json:"travel_bookings_found"`
	BillsFound              int    `json:"bills_found"`
	InvestmentsFound        int    `json:"investments_found"`
	AnalysisDate            string `json:"analysis_date"`
}
