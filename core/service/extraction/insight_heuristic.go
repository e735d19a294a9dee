package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"insight_server/core/domain"
)

// =============================================================================
// Heuristic Tables
// =============================================================================

type keywordName struct {
	keyword string
	name    string
}

// relevanceKeywords gate the heuristic; an email without any of them is not relevant.
var relevanceKeywords = []string{
	"card", "credit card", "transaction", "charged", "statement", "payment", "purchase", "bill",
}

// knownMerchants is checked in order, first substring hit wins.
var knownMerchants = []keywordName{
	{"swiggy", "Swiggy"},
	{"zomato", "Zomato"},
	{"amazon", "Amazon"},
	{"flipkart", "Flipkart"},
	{"uber", "Uber"},
	{"ola", "Ola"},
	{"paytm", "Paytm"},
	{"phonepe", "PhonePe"},
	{"gpay", "Google Pay"},
	{"myntra", "Myntra"},
	{"bigbasket", "BigBasket"},
	{"netflix", "Netflix"},
	{"spotify", "Spotify"},
	{"airtel", "Airtel"},
	{"jio", "Jio"},
	{"hdfc", "HDFC Bank"},
	{"icici", "ICICI Bank"},
	{"sbi", "SBI"},
	{"axis", "Axis Bank"},
}

// subjectNoise are capitalized subject words that never name a merchant.
var subjectNoise = map[string]struct{}{
	"you": {}, "your": {}, "rs": {}, "view": {}, "fwd": {},
	"account": {}, "alert": {}, "update": {}, "payment": {}, "scheduled": {},
}

type categoryKeywords struct {
	category string
	keywords []string
}

var merchantCategories = []categoryKeywords{
	{"Food", []string{"swiggy", "zomato", "dominos", "kfc", "mcdonald"}},
	{"Shopping", []string{"amazon", "flipkart", "myntra", "ajio"}},
	{"Transportation", []string{"uber", "ola", "rapido"}},
	{"Entertainment", []string{"netflix", "spotify", "hotstar", "prime"}},
	{"Bills", []string{"airtel", "jio", "bsnl", "electricity", "gas"}},
	{"Healthcare", []string{"practo", "apollo", "pharmeasy"}},
	{"Travel", []string{"makemytrip", "goibibo", "cleartrip", "irctc"}},
}

const (
	categoryOther       = "Other"
	heuristicConfidence = 0.7
	minAmount           = 1
	maxAmount           = 1_000_000
	dateLayout          = "2006-01-02"
)

var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:₹|inr|rs\.?)\s*([0-9,]+(?:\.[0-9]{2})?)`),
		regexp.MustCompile(`(?i)([0-9,]+(?:\.[0-9]{2})?)\s*(?:₹|inr|rs\.?)`),
		regexp.MustCompile(`(?i)(?:amount|total|paid|charged).*?(?:₹|inr|rs\.?)\s*([0-9,]+(?:\.[0-9]{2})?)`),
	}
	senderDomainPattern = regexp.MustCompile(`@([^.]+)`)
	subjectWordPattern  = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
)

// =============================================================================
// Heuristic Extraction
// =============================================================================

// heuristic is the deterministic local extractor used whenever the model is
// unavailable or its answer cannot be used.
type heuristic struct {
	now func() time.Time
}

func (h heuristic) extract(body, from, subject string) domain.InsightRecord {
	var rec domain.InsightRecord

	text := strings.ToLower(subject + " " + body)
	if !containsAny(text, relevanceKeywords) {
		return rec
	}
	rec.IsRelevant = true

	merchant, okMerchant := merchantName(from, subject)
	amount, okAmount := extractAmount(text)
	if !okMerchant || !okAmount {
		return rec
	}

	rec.Transaction = &domain.Transaction{
		Merchant:        merchant,
		Amount:          domain.Float(amount),
		Currency:        "INR",
		Date:            h.now().Format(dateLayout),
		Category:        categorize(merchant),
		TransactionType: domain.TransactionExpense,
		CardType:        "credit_card",
		Confidence:      domain.Float(heuristicConfidence),
	}
	return rec
}

func merchantName(from, subject string) (string, bool) {
	text := strings.ToLower(from + " " + subject)
	for _, m := range knownMerchants {
		if strings.Contains(text, m.keyword) {
			return m.name, true
		}
	}

	if match := senderDomainPattern.FindStringSubmatch(from); match != nil {
		domainPart := strings.ToLower(match[1])
		for _, m := range knownMerchants {
			if strings.Contains(domainPart, m.keyword) {
				return m.name, true
			}
		}
	}

	for _, word := range subjectWordPattern.FindAllString(subject, -1) {
		if _, noise := subjectNoise[strings.ToLower(word)]; noise || len(word) <= 2 {
			continue
		}
		return word, true
	}
	return "", false
}

// extractAmount tries each pattern in order; only the first hit of a pattern counts.
func extractAmount(text string) (float64, bool) {
	for _, re := range amountPatterns {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if v >= minAmount && v <= maxAmount {
			return v, true
		}
	}
	return 0, false
}

func categorize(merchant string) string {
	lower := strings.ToLower(merchant)
	for _, c := range merchantCategories {
		if containsAny(lower, c.keywords) {
			return c.category
		}
	}
	return categoryOther
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
