// Package analytics folds extracted insight records into a financial report.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"insight_server/core/domain"
)

const (
	topMerchantsLimit    = 10
	topAirlinesLimit     = 5
	topHotelsLimit       = 5
	topDestinationsLimit = 10
	weeksPerMonth        = 4.33
	baseHealthScore      = 50
	monthKeyLayout       = "2006-01"
	dateLayout           = "2006-01-02"
	analysisDateLayout   = "2006-01-02 15:04:05"
	defaultCategory      = "Other"
	defaultMerchant      = "Unknown"
	defaultUtilityType   = "Other"
)

// Aggregator is stateless apart from its clock.
type Aggregator struct {
	now func() time.Time
	log zerolog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		now: time.Now,
		log: log.With().Str("component", "aggregator").Logger(),
	}
}

// WithClock overrides the clock used for the report's analysis date.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Aggregate builds the report over the relevant records. A failing section is
// replaced by its empty value and does not affect the others.
func (a *Aggregator) Aggregate(records []domain.InsightRecord) *domain.AnalyticsReport {
	relevant := make([]domain.InsightRecord, 0, len(records))
	for _, r := range records {
		if r.IsRelevant {
			relevant = append(relevant, r)
		}
	}

	report := &domain.AnalyticsReport{
		Spending:      section(a.log, "spending", emptySpending(), func() domain.SpendingAnalysis { return analyzeSpending(relevant) }),
		Income:        section(a.log, "income", emptyIncome(), func() domain.IncomeAnalysis { return analyzeIncome(relevant) }),
		Subscriptions: section(a.log, "subscriptions", emptySubscriptions(), func() domain.SubscriptionAnalysis { return analyzeSubscriptions(relevant) }),
		Travel:        section(a.log, "travel", emptyTravel(), func() domain.TravelAnalysis { return analyzeTravel(relevant) }),
		Bills:         section(a.log, "bills", emptyBills(), func() domain.BillsAnalysis { return analyzeBills(relevant) }),
		Investments:   section(a.log, "investments", emptyInvestments(), func() domain.InvestmentAnalysis { return analyzeInvestments(relevant) }),
	}
	report.Health = section(a.log, "health", emptyHealth(), func() domain.FinancialHealth {
		return analyzeHealth(report.Spending, report.Income, report.Subscriptions)
	})
	report.Summary = section(a.log, "summary", domain.ReportSummary{TotalEmailsAnalyzed: len(records)}, func() domain.ReportSummary {
		return summarize(records, relevant, a.now())
	})
	return report
}

func section[T any](logger zerolog.Logger, name string, fallback T, fn func() T) (result T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("section", name).Interface("panic", r).Msg("analytics section failed")
			result = fallback
		}
	}()
	return fn()
}

// =============================================================================
// Sections
// =============================================================================

func analyzeSpending(records []domain.InsightRecord) domain.SpendingAnalysis {
	res := emptySpending()
	merchants := make(map[string]float64)

	for _, r := range records {
		t := r.Transaction
		if t == nil || t.TransactionType != domain.TransactionExpense || domain.ValueOf(t.Amount) == 0 {
			continue
		}
		amount := *t.Amount
		category := orDefault(t.Category, defaultCategory)
		merchant := orDefault(t.Merchant, defaultMerchant)

		res.TotalSpending += amount
		res.CategoryBreakdown[category] += amount
		merchants[merchant] += amount
		if month, ok := monthKey(t.Date); ok {
			res.MonthlyTrend[month] += amount
		}
		if amount > res.HighestSingleTransaction {
			res.HighestSingleTransaction = amount
		}
	}

	res.TopMerchants = rankAmounts(merchants, topMerchantsLimit)
	if n := len(res.MonthlyTrend); n > 0 {
		res.AverageMonthlySpending = round2(res.TotalSpending / float64(n))
	}
	return res
}

func analyzeIncome(records []domain.InsightRecord) domain.IncomeAnalysis {
	res := emptyIncome()
	employers := make(map[string]struct{})

	for _, r := range records {
		inc := r.Income
		if inc == nil {
			continue
		}
		amount := domain.ValueOf(inc.Amount)
		res.TotalIncome += amount
		if inc.Employer != "" {
			employers[inc.Employer] = struct{}{}
		}
		if inc.PayCycle != "" {
			res.PayCycles[inc.PayCycle]++
		}
		if month, ok := monthKey(inc.Date); ok {
			res.MonthlyIncomeTrend[month] += amount
		}
	}

	res.Employers = sortedKeys(employers)
	if n := len(res.MonthlyIncomeTrend); n > 0 {
		var sum float64
		for _, v := range res.MonthlyIncomeTrend {
			sum += v
		}
		res.AverageMonthlyIncome = round2(sum / float64(n))
	}
	return res
}

func analyzeSubscriptions(records []domain.InsightRecord) domain.SubscriptionAnalysis {
	res := emptySubscriptions()
	var monthly float64

	for _, r := range records {
		s := r.Subscription
		if s == nil {
			continue
		}
		amount := domain.ValueOf(s.Amount)
		res.Services = append(res.Services, domain.SubscriptionService{
			Service:      s.Service,
			Amount:       amount,
			BillingCycle: s.BillingCycle,
			NextBilling:  s.NextBilling,
		})
		monthly += monthlyEquivalent(amount, s.BillingCycle)
	}

	res.ActiveSubscriptions = len(res.Services)
	res.MonthlyRecurringCost = round2(monthly)
	res.TotalAnnualCost = round2(monthly * 12)
	return res
}

// monthlyEquivalent normalizes a charge to a month. A missing cycle counts as
// monthly; an unknown cycle contributes nothing.
func monthlyEquivalent(amount float64, cycle string) float64 {
	switch cycle {
	case domain.CycleYearly:
		return amount / 12
	case domain.CycleMonthly, "":
		return amount
	case domain.CycleWeekly:
		return amount * weeksPerMonth
	default:
		return 0
	}
}

func analyzeTravel(records []domain.InsightRecord) domain.TravelAnalysis {
	res := emptyTravel()
	airlines := make(map[string]int)
	hotels := make(map[string]int)
	destinations := make(map[string]int)

	for _, r := range records {
		tr := r.Travel
		if tr == nil {
			continue
		}
		res.TotalTrips++
		res.TotalTravelSpending += domain.ValueOf(tr.BookingAmount)
		if tr.Airline != "" {
			airlines[tr.Airline]++
		}
		if tr.Hotel != "" {
			hotels[tr.Hotel]++
		}
		if tr.Destination != "" {
			destinations[tr.Destination]++
		}
	}

	res.PreferredAirlines = rankCounts(airlines, topAirlinesLimit)
	res.PreferredHotels = rankCounts(hotels, topHotelsLimit)
	res.PopularDestinations = rankCounts(destinations, topDestinationsLimit)
	if res.TotalTrips > 0 {
		res.AverageTripCost = round2(res.TotalTravelSpending / float64(res.TotalTrips))
	}
	return res
}

func analyzeBills(records []domain.InsightRecord) domain.BillsAnalysis {
	res := emptyBills()
	providers := make(map[string]struct{})
	var total float64

	for _, r := range records {
		b := r.Bills
		if b == nil {
			continue
		}
		amount := domain.ValueOf(b.Amount)
		res.TotalBills++
		res.UtilityBreakdown[orDefault(b.UtilityType, defaultUtilityType)] += amount
		total += amount
		if b.Provider != "" {
			providers[b.Provider] = struct{}{}
		}
	}

	res.MonthlyBillAmount = round2(total)
	res.ServiceProviders = sortedKeys(providers)
	return res
}

func analyzeInvestments(records []domain.InsightRecord) domain.InvestmentAnalysis {
	res := emptyInvestments()
	platforms := make(map[string]struct{})

	for _, r := range records {
		inv := r.Investment
		if inv == nil {
			continue
		}
		res.TotalInvestments++
		if inv.Platform != "" {
			platforms[inv.Platform] = struct{}{}
		}
		if inv.Instrument != "" {
			res.InstrumentBreakdown[inv.Instrument]++
		}
		switch inv.Action {
		case domain.InvestmentBuy:
			res.TotalInvested += domain.ValueOf(inv.Amount)
		case domain.InvestmentSell:
			res.TotalWithdrawn += domain.ValueOf(inv.Amount)
		}
	}

	res.InvestmentPlatforms = sortedKeys(platforms)
	res.NetInvestment = res.TotalInvested - res.TotalWithdrawn
	return res
}

func analyzeHealth(spending domain.SpendingAnalysis, income domain.IncomeAnalysis, subs domain.SubscriptionAnalysis) domain.FinancialHealth {
	spend := spending.AverageMonthlySpending
	earn := income.AverageMonthlyIncome

	var savingsRate, subRatio float64
	if earn > 0 {
		savingsRate = (earn - spend) / earn * 100
	}
	if spend > 0 {
		subRatio = subs.MonthlyRecurringCost / spend * 100
	}

	score := baseHealthScore
	switch {
	case savingsRate > 20:
		score += 20
	case savingsRate > 10:
		score += 10
	case savingsRate < 0:
		score -= 20
	}
	switch {
	case subRatio < 10:
		score += 10
	case subRatio > 25:
		score -= 10
	}

	return domain.FinancialHealth{
		SavingsRate:                round1(savingsRate),
		SubscriptionToSpendingRate: round1(subRatio),
		FinancialHealthScore:       max(0, min(100, score)),
		MonthlySurplusDeficit:      round2(earn - spend),
	}
}

func summarize(all, relevant []domain.InsightRecord, now time.Time) domain.ReportSummary {
	s := domain.ReportSummary{
		TotalEmailsAnalyzed:  len(all),
		FinancialEmailsFound: len(relevant),
		AnalysisDate:         now.Format(analysisDateLayout),
	}
	for _, r := range relevant {
		if r.Transaction != nil {
			s.TransactionsExtracted++
		}
		if r.Income != nil {
			s.IncomeEntriesFound++
		}
		if r.Subscription != nil {
			s.SubscriptionsIdentified++
		}
		if r.Travel != nil {
			s.TravelBookingsFound++
		}
		if r.Bills != nil {
			s.BillsFound++
		}
		if r.Investment != nil {
			s.InvestmentsFound++
		}
	}
	return s
}

// =============================================================================
// Defaults
// =============================================================================

func emptySpending() domain.SpendingAnalysis {
	return domain.SpendingAnalysis{
		CategoryBreakdown: map[string]float64{},
		MonthlyTrend:      map[string]float64{},
		TopMerchants:      []domain.NamedAmount{},
	}
}

func emptyIncome() domain.IncomeAnalysis {
	return domain.IncomeAnalysis{
		Employers:          []string{},
		PayCycles:          map[string]int{},
		MonthlyIncomeTrend: map[string]float64{},
	}
}

func emptySubscriptions() domain.SubscriptionAnalysis {
	return domain.SubscriptionAnalysis{Services: []domain.SubscriptionService{}}
}

func emptyTravel() domain.TravelAnalysis {
	return domain.TravelAnalysis{
		PreferredAirlines:   []domain.NamedCount{},
		PreferredHotels:     []domain.NamedCount{},
		PopularDestinations: []domain.NamedCount{},
	}
}

func emptyBills() domain.BillsAnalysis {
	return domain.BillsAnalysis{
		UtilityBreakdown: map[string]float64{},
		ServiceProviders: []string{},
	}
}

func emptyInvestments() domain.InvestmentAnalysis {
	return domain.InvestmentAnalysis{
		InvestmentPlatforms: []string{},
		InstrumentBreakdown: map[string]int{},
	}
}

func emptyHealth() domain.FinancialHealth {
	return domain.FinancialHealth{FinancialHealthScore: baseHealthScore}
}

// =============================================================================
// Helpers
// =============================================================================

func monthKey(date string) (string, bool) {
	if date == "" {
		return "", false
	}
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", false
	}
	return t.Format(monthKeyLayout), true
}

func rankAmounts(m map[string]float64, limit int) []domain.NamedAmount {
	out := make([]domain.NamedAmount, 0, len(m))
	for k, v := range m {
		out = append(out, domain.NamedAmount{Name: k, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func rankCounts(m map[string]int, limit int) []domain.NamedCount {
	out := make([]domain.NamedCount, 0, len(m))
	for k, v := range m {
		out = append(out, domain.NamedCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
