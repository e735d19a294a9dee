package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insight_server/core/domain"
)

func TestScanTransactions(t *testing.T) {
	tests := []struct {
		name  string
		email domain.EmailRecord
		want  domain.DetectedTransaction
	}{
		{
			name: "known merchant with date in body",
			email: domain.EmailRecord{
				ID: "m1", From: "Swiggy <noreply@swiggy.in>", Subject: "Your order is confirmed",
				BodyText: "Paid ₹499 on 14/03/2025 for your order",
			},
			want: domain.DetectedTransaction{
				EmailID: "m1", Merchant: "Swiggy", Amount: 499, Date: "2025-03-14", Category: "Food", Confidence: 1,
			},
		},
		{
			name: "unknown merchant dated by message",
			email: domain.EmailRecord{
				ID: "m2", From: "billing@acme.example", Subject: "Invoice from Acme",
				BodyText: "Total due: USD 1,250.00", InternalDate: "1741910400000",
			},
			want: domain.DetectedTransaction{
				EmailID: "m2", Merchant: "Invoice", Amount: 1250, Date: "2025-03-14", Category: "Other", Confidence: 0.8,
			},
		},
		{
			name: "large amount dated today",
			email: domain.EmailRecord{
				ID: "m3", From: "alerts@bank.example", Subject: "Flipkart purchase",
				BodyText: "charged Rs. 250000",
			},
			want: domain.DetectedTransaction{
				EmailID: "m3", Merchant: "Flipkart", Amount: 250000, Date: "2025-03-14", Category: "Shopping", Confidence: 0.8,
			},
		},
		{
			name: "wallet alias",
			email: domain.EmailRecord{
				ID: "m4", From: "no-reply@bank.example", Subject: "Payment sent",
				BodyText: "You paid Rs 80 via Google Pay on 5 Mar 2025",
			},
			want: domain.DetectedTransaction{
				EmailID: "m4", Merchant: "Gpay", Amount: 80, Date: "2025-03-05", Category: "Digital Wallet", Confidence: 1,
			},
		},
	}

	s := NewTransactionScanner().WithClock(fixedNow)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Scan(tt.email)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanSkipsNonTransactions(t *testing.T) {
	s := NewTransactionScanner().WithClock(fixedNow)

	tests := map[string]domain.EmailRecord{
		"no keyword or amount": {ID: "a", From: "news@blog.example", Subject: "Weekly newsletter", BodyText: "Read our latest stories"},
		"no amount":            {ID: "b", From: "receipts@uber.com", Subject: "Your Uber receipt", BodyText: "Thanks for riding"},
		"no merchant":          {ID: "c", From: "someone", Subject: "re: payment", BodyText: "sent ₹100"},
	}
	for name, email := range tests {
		_, ok := s.Scan(email)
		assert.False(t, ok, name)
	}
}

func TestScanAllKeepsOrder(t *testing.T) {
	s := NewTransactionScanner().WithClock(fixedNow)
	emails := []domain.EmailRecord{
		{ID: "1", From: "noreply@zomato.com", Subject: "Order delivered", BodyText: "Total ₹320"},
		{ID: "2", From: "news@blog.example", Subject: "hello", BodyText: "nothing here"},
		{ID: "3", From: "noreply@amazon.in", Subject: "Order shipped", BodyText: "Amount Rs 1,499.00"},
	}

	found := s.ScanAll(emails)

	require.Len(t, found, 2)
	assert.Equal(t, "1", found[0].EmailID)
	assert.Equal(t, "Zomato", found[0].Merchant)
	assert.Equal(t, "3", found[1].EmailID)
	assert.Equal(t, 1499.0, found[1].Amount)
	assert.NotNil(t, s.ScanAll(nil))
}

func TestScanAmount(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"refund Rs 0.50, total Rs 120", 120, true},
		{"₹1", 1, true},
		{"€ 45.90 charged", 45.9, true},
		{"paid $12", 12, true},
		{"450 INR debited", 450, true},
		{"Rs 2000000", 0, false},
		{"no money here", 0, false},
	}
	for _, tt := range tests {
		got, ok := scanAmount(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestScanDate(t *testing.T) {
	s := NewTransactionScanner().WithClock(fixedNow)

	tests := []struct {
		content  string
		internal string
		want     string
	}{
		{"on 14/03/2025", "", "2025-03-14"},
		{"month first 03/14/2025", "", "2025-03-14"},
		{"iso 2025-03-09", "", "2025-03-09"},
		{"on 5 Mar 2025", "", "2025-03-05"},
		{"due Mar 5, 2025", "", "2025-03-05"},
		{"short year 31/12/25", "1740787200000", "2025-03-01"},
		{"no date", "not-a-number", "2025-03-14"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.scanDate(tt.content, tt.internal), tt.content)
	}
}

func TestScanConfidence(t *testing.T) {
	assert.Equal(t, 1.0, scanConfidence(true, 100_000))
	assert.Equal(t, 0.8, scanConfidence(true, 100_001))
	assert.Equal(t, 0.8, scanConfidence(false, 10))
	assert.Equal(t, 0.6, scanConfidence(false, 500_000))
}
