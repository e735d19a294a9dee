package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"insight_server/core/domain"
)

const batchBodyLimit = 500

var errEmptyResponse = errors.New("empty model response")

const singlePromptTemplate = `Analyze this email for CREDIT CARD SPECIFIC financial insights. Focus ONLY on credit card transactions, statements, and card-related information.

Email From: %s
Subject: %s
Content: %s

Return ONLY valid JSON (no markdown, no explanation):
{
  "transaction": {
    "merchant": "merchant charged to the credit card (null if not a card transaction)",
    "amount": numeric_amount_only,
    "currency": "INR/USD/etc",
    "date": "YYYY-MM-DD",
    "category": "Food/Shopping/Transportation/Entertainment/Bills/Healthcare/Education/Travel/Other",
    "transaction_type": "expense/income/transfer",
    "card_type": "credit_card/debit_card/null",
    "card_last_four": "last 4 digits or null",
    "confidence": 0.0-1.0
  },
  "subscription": {"service": "name", "amount": numeric_amount, "billing_cycle": "monthly/yearly/weekly", "next_billing": "YYYY-MM-DD", "charged_to_card": true/false},
  "travel": {"airline": "name", "hotel": "name", "destination": "city/country", "travel_date": "YYYY-MM-DD", "booking_amount": numeric_amount, "charged_to_card": true/false},
  "bills": {"utility_type": "electricity/gas/internet/mobile/insurance", "provider": "company", "amount": numeric_amount, "due_date": "YYYY-MM-DD", "charged_to_card": true/false},
  "card_info": {"card_statement": true/false, "statement_period": "YYYY-MM to YYYY-MM", "total_amount_due": numeric_amount, "minimum_due": numeric_amount, "due_date": "YYYY-MM-DD", "available_limit": numeric_amount, "rewards_earned": numeric_amount, "cashback_earned": numeric_amount},
  "is_relevant": true/false
}

RULES:
- Extract only what relates to CREDIT CARD usage, statements or payments
- Ignore salary, bank transfers, UPI and wallet payments unless charged to a credit card
- Set is_relevant to false for non credit card activity
- Use null for anything not present in the email`

const batchPromptTemplate = `Analyze these %d emails for CREDIT CARD SPECIFIC insights. Focus ONLY on credit card transactions, statements, and card-related information.

%s

Return ONLY a JSON array with exactly %d objects, one per email and in the same order:
[
  {
    "email_index": 1,
    "transaction": {"merchant": "name or null", "amount": number_or_null, "currency": "INR", "date": "YYYY-MM-DD", "category": "Food/Shopping/etc", "transaction_type": "expense", "card_type": "credit_card/debit_card/null", "card_last_four": "digits or null", "confidence": 0.8},
    "subscription": {"service": "name or null", "amount": number_or_null, "billing_cycle": "monthly", "next_billing": "YYYY-MM-DD", "charged_to_card": true_or_false},
    "travel": {"airline": "name or null", "hotel": "name or null", "destination": "city", "travel_date": "YYYY-MM-DD", "booking_amount": number_or_null, "charged_to_card": true_or_false},
    "bills": {"utility_type": "type or null", "provider": "name or null", "amount": number_or_null, "due_date": "YYYY-MM-DD", "charged_to_card": true_or_false},
    "card_info": {"card_statement": true_or_false, "statement_period": "YYYY-MM to YYYY-MM", "total_amount_due": number_or_null, "minimum_due": number_or_null, "due_date": "YYYY-MM-DD", "available_limit": number_or_null, "rewards_earned": number_or_null, "cashback_earned": number_or_null},
    "is_relevant": true_or_false
  }
]

RULES:
- Extract only what relates to CREDIT CARD usage, statements or payments
- Set is_relevant to false for non credit card activity`

func buildSinglePrompt(body, from, subject string) string {
	return fmt.Sprintf(singlePromptTemplate, from, subject, body)
}

func buildBatchPrompt(emails []domain.EmailRecord) string {
	var sb strings.Builder
	for i, e := range emails {
		sb.WriteString(fmt.Sprintf("Email %d:\nFrom: %s\nSubject: %s\nContent: %s\n---\n",
			i+1, e.From, e.Subject, truncateRunes(e.BodyText, batchBodyLimit)))
	}
	return fmt.Sprintf(batchPromptTemplate, len(emails), sb.String(), len(emails))
}

// stripFences removes a markdown code fence around a model answer.
func stripFences(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

func parseSingleResponse(resp string) (domain.InsightRecord, error) {
	var rec domain.InsightRecord
	body := stripFences(resp)
	if body == "" {
		return rec, errEmptyResponse
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return rec, fmt.Errorf("failed to parse insight: %w", err)
	}
	return compact(rec), nil
}

// parseBatchResponse decodes the array envelope only. Elements are decoded one
// by one so that a single malformed element falls back alone.
func parseBatchResponse(resp string) ([]json.RawMessage, error) {
	body := stripFences(resp)
	if body == "" {
		return nil, errEmptyResponse
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("failed to parse insight batch: %w", err)
	}
	return items, nil
}

func decodeBatchItem(raw json.RawMessage) (domain.InsightRecord, error) {
	var rec domain.InsightRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	return compact(rec), nil
}

// compact drops sub-records the model filled with nulls only and clears
// literal "null" strings.
func compact(rec domain.InsightRecord) domain.InsightRecord {
	if t := rec.Transaction; t != nil {
		t.Merchant, t.Currency, t.Date = clean(t.Merchant), clean(t.Currency), clean(t.Date)
		t.Category, t.TransactionType = clean(t.Category), clean(t.TransactionType)
		t.CardType, t.CardLastFour = clean(t.CardType), clean(t.CardLastFour)
		if t.Merchant == "" && t.Amount == nil {
			rec.Transaction = nil
		}
	}
	if s := rec.Subscription; s != nil {
		s.Service, s.BillingCycle, s.NextBilling = clean(s.Service), clean(s.BillingCycle), clean(s.NextBilling)
		if s.Service == "" && s.Amount == nil {
			rec.Subscription = nil
		}
	}
	if tr := rec.Travel; tr != nil {
		tr.Airline, tr.Hotel, tr.Destination, tr.TravelDate = clean(tr.Airline), clean(tr.Hotel), clean(tr.Destination), clean(tr.TravelDate)
		if tr.Airline == "" && tr.Hotel == "" && tr.Destination == "" && tr.BookingAmount == nil {
			rec.Travel = nil
		}
	}
	if b := rec.Bills; b != nil {
		b.UtilityType, b.Provider, b.DueDate = clean(b.UtilityType), clean(b.Provider), clean(b.DueDate)
		if b.UtilityType == "" && b.Provider == "" && b.Amount == nil {
			rec.Bills = nil
		}
	}
	if inv := rec.Investment; inv != nil {
		inv.Platform, inv.Instrument, inv.Action, inv.Date = clean(inv.Platform), clean(inv.Instrument), clean(inv.Action), clean(inv.Date)
		if inv.Platform == "" && inv.Instrument == "" && inv.Amount == nil {
			rec.Investment = nil
		}
	}
	if inc := rec.Income; inc != nil {
		inc.Employer, inc.Date, inc.PayCycle = clean(inc.Employer), clean(inc.Date), clean(inc.PayCycle)
		if inc.Employer == "" && inc.Amount == nil {
			rec.Income = nil
		}
	}
	if c := rec.CardInfo; c != nil {
		c.StatementPeriod, c.DueDate = clean(c.StatementPeriod), clean(c.DueDate)
		if (c.CardStatement == nil || !*c.CardStatement) && c.TotalAmountDue == nil && c.MinimumDue == nil &&
			c.AvailableLimit == nil && c.RewardsEarned == nil && c.CashbackEarned == nil {
			rec.CardInfo = nil
		}
	}
	return rec
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a":
		return ""
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
