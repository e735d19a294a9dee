package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"insight_server/core/domain"
)

// =============================================================================
// Transaction Scanner Tables
// =============================================================================

type merchantPattern struct {
	key string
	re  *regexp.Regexp
}

// scanMerchants is checked in order over subject, body and sender.
var scanMerchants = []merchantPattern{
	{"swiggy", regexp.MustCompile(`(?i)swiggy`)},
	{"zomato", regexp.MustCompile(`(?i)zomato`)},
	{"amazon", regexp.MustCompile(`(?i)amazon`)},
	{"flipkart", regexp.MustCompile(`(?i)flipkart`)},
	{"paytm", regexp.MustCompile(`(?i)paytm`)},
	{"uber", regexp.MustCompile(`(?i)uber`)},
	{"ola", regexp.MustCompile(`(?i)ola`)},
	{"myntra", regexp.MustCompile(`(?i)myntra`)},
	{"bigbasket", regexp.MustCompile(`(?i)bigbasket`)},
	{"phonepe", regexp.MustCompile(`(?i)phonepe`)},
	{"gpay", regexp.MustCompile(`(?i)google pay|gpay`)},
}

var scanCategories = map[string]string{
	"swiggy":    "Food",
	"zomato":    "Food",
	"amazon":    "Shopping",
	"flipkart":  "Shopping",
	"myntra":    "Shopping",
	"bigbasket": "Groceries",
	"uber":      "Transportation",
	"ola":       "Transportation",
	"paytm":     "Digital Wallet",
	"phonepe":   "Digital Wallet",
	"gpay":      "Digital Wallet",
}

var scanKeywords = []string{
	"order", "payment", "invoice", "receipt", "transaction", "purchase",
	"charged", "paid", "booking", "confirmation", "bill", "checkout",
}

var scanAmountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:₹|inr|rs\.?)\s*([0-9,]+(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)(?:\$|usd)\s*([0-9,]+(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)(?:€|eur)\s*([0-9,]+(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)([0-9,]+(?:\.[0-9]{2})?)\s*(?:₹|inr|rs\.?)`),
	regexp.MustCompile(`(?i)(?:amount|total|paid|charged).*?(?:₹|inr|rs\.?)\s*([0-9,]+(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)(?:₹|inr|rs\.?)\s*([0-9,]+)`),
}

var scanDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
	regexp.MustCompile(`(\d{2,4}[-/]\d{1,2}[-/]\d{1,2})`),
	regexp.MustCompile(`(\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{2,4})`),
	regexp.MustCompile(`((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2},?\s+\d{2,4})`),
}

// scanDateLayouts are tried in order; day-first wins over month-first.
var scanDateLayouts = []string{
	"2/1/2006", "1/2/2006", "2006/1/2",
	"2-1-2006", "1-2-2006", "2006-1-2",
	"2 Jan 2006", "2 January 2006",
	"Jan 2, 2006", "January 2, 2006",
}

const confidentAmountLimit = 100_000

// =============================================================================
// Transaction Scanner
// =============================================================================

// TransactionScanner finds purchases with patterns only. It needs a merchant
// and an amount; the date falls back to the message date, then to today.
type TransactionScanner struct {
	now func() time.Time
}

func NewTransactionScanner() *TransactionScanner {
	return &TransactionScanner{now: time.Now}
}

// WithClock overrides the clock used for the last-resort date.
func (s *TransactionScanner) WithClock(now func() time.Time) *TransactionScanner {
	s.now = now
	return s
}

// ScanAll scans every email, keeping input order.
func (s *TransactionScanner) ScanAll(emails []domain.EmailRecord) []domain.DetectedTransaction {
	found := make([]domain.DetectedTransaction, 0)
	for _, email := range emails {
		if tx, ok := s.Scan(email); ok {
			found = append(found, tx)
		}
	}
	return found
}

// Scan returns the transaction of one email, if any.
func (s *TransactionScanner) Scan(email domain.EmailRecord) (domain.DetectedTransaction, bool) {
	content := email.Subject + " " + email.BodyText
	if !looksTransactional(strings.ToLower(content)) {
		return domain.DetectedTransaction{}, false
	}

	merchant, known, ok := scanMerchant(email)
	if !ok {
		return domain.DetectedTransaction{}, false
	}
	amount, ok := scanAmount(content)
	if !ok {
		return domain.DetectedTransaction{}, false
	}

	category := scanCategories[strings.ToLower(merchant)]
	if category == "" {
		category = categoryOther
	}

	return domain.DetectedTransaction{
		EmailID:    email.ID,
		Merchant:   merchant,
		Amount:     amount,
		Date:       s.scanDate(content, email.InternalDate),
		Category:   category,
		Confidence: scanConfidence(known, amount),
	}, true
}

func looksTransactional(lower string) bool {
	if containsAny(lower, scanKeywords) {
		return true
	}
	for _, re := range scanAmountPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// scanMerchant reports the merchant and whether it is a known one.
func scanMerchant(email domain.EmailRecord) (string, bool, bool) {
	text := email.Subject + " " + email.BodyText + " " + email.From
	for _, m := range scanMerchants {
		if m.re.MatchString(text) {
			return titleCase(m.key), true, true
		}
	}

	if match := senderDomainPattern.FindStringSubmatch(email.From); match != nil {
		domainPart := strings.ToLower(match[1])
		for _, m := range scanMerchants {
			if strings.Contains(domainPart, m.key) {
				return titleCase(m.key), true, true
			}
		}
	}

	if word := subjectWordPattern.FindString(email.Subject); word != "" {
		return word, false, true
	}
	return "", false, false
}

// scanAmount tries every match of each pattern in order.
func scanAmount(text string) (float64, bool) {
	for _, re := range scanAmountPatterns {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
			if err != nil {
				continue
			}
			if v >= minAmount && v <= maxAmount {
				return v, true
			}
		}
	}
	return 0, false
}

func (s *TransactionScanner) scanDate(content, internalDate string) string {
	for _, re := range scanDatePatterns {
		match := re.FindString(content)
		if match == "" {
			continue
		}
		if t, ok := parseScanDate(match); ok {
			return t.Format(dateLayout)
		}
	}

	if ms, err := strconv.ParseInt(internalDate, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC().Format(dateLayout)
	}
	return s.now().Format(dateLayout)
}

func parseScanDate(value string) (time.Time, bool) {
	for _, layout := range scanDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// scanConfidence adds 0.4 for a known merchant (0.2 otherwise), 0.4 for an
// amount up to 1 lakh (0.2 above) and 0.2 for the date, which is always set.
func scanConfidence(knownMerchant bool, amount float64) float64 {
	c := 0.2
	if knownMerchant {
		c += 0.4
	} else {
		c += 0.2
	}
	if amount <= confidentAmountLimit {
		c += 0.4
	} else {
		c += 0.2
	}
	return math.Min(math.Round(c*10)/10, 1)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
