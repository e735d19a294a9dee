package classification

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Relevance Rules
// =============================================================================

// Rule is one ordered relevance pattern.
//
// UnlessFollowedBy turns the rule into a carve-out: it only matches when at
// least one occurrence of Pattern is not followed, later on the same line, by
// that fragment. "card" keeps card-related mail out of the exclude tier.
type Rule struct {
	Name             string `yaml:"name"`
	Pattern          string `yaml:"pattern"`
	UnlessFollowedBy string `yaml:"unless_followed_by,omitempty"`

	re *regexp.Regexp
}

// Match reports whether the rule matches normalized (lowercased) text.
func (r *Rule) Match(text string) bool {
	if r.re == nil {
		return false
	}
	if r.UnlessFollowedBy == "" {
		return r.re.MatchString(text)
	}

	for _, loc := range r.re.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		if !strings.Contains(rest, r.UnlessFollowedBy) {
			return true
		}
	}
	return false
}

func (r *Rule) compile() error {
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	r.re = re
	if r.UnlessFollowedBy != "" {
		r.UnlessFollowedBy = strings.ToLower(r.UnlessFollowedBy)
	}
	return nil
}

// RuleSet holds the three rule tiers. Order inside each tier is significant.
type RuleSet struct {
	Exclude []Rule `yaml:"exclude"`
	High    []Rule `yaml:"high_confidence"`
	Medium  []Rule `yaml:"medium_confidence"`
}

// Compile compiles every pattern in place.
func (rs *RuleSet) Compile() error {
	for _, tier := range [][]Rule{rs.Exclude, rs.High, rs.Medium} {
		for i := range tier {
			if err := tier[i].compile(); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadRuleSet reads a YAML rule file.
func LoadRuleSet(path string) (RuleSet, error) {
	var rs RuleSet
	data, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return rs, fmt.Errorf("parse rules: %w", err)
	}
	if len(rs.Exclude)+len(rs.High)+len(rs.Medium) == 0 {
		return rs, fmt.Errorf("rules file %s has no rules", path)
	}
	return rs, rs.Compile()
}

const unlessCard = "card"

// DefaultRuleSet returns the built-in credit card focused rules.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		High: []Rule{
			{Name: "card_charge_amount", Pattern: `\b(credit card|card|transaction|charged|payment|purchase)\b.*[₹$€]\s*\d+`},
			{Name: "card_number", Pattern: `\b(card ending|card.*\d{4}|xxxx\d{4}|\*{4}\d{4})\b`},
			{Name: "transaction_confirmed", Pattern: `\b(transaction.*successful|payment.*completed|purchase.*confirmed)\b`},
			{Name: "statement", Pattern: `\b(statement|monthly statement|billing statement|card statement)\b`},
			{Name: "merchant_amount", Pattern: `\b(swiggy|zomato|amazon|flipkart|uber|ola|paytm|phonepe|gpay)\b.*[₹$€]\s*\d+`},
			{Name: "payment_event", Pattern: `\b(payment.*received|bill.*paid|auto.*debit|emi.*deducted)\b`},
			{Name: "card_limit", Pattern: `\b(available.*limit|credit.*limit|outstanding.*amount|minimum.*due)\b`},
		},
		Medium: []Rule{
			{Name: "bank_card", Pattern: `\b(hdfc.*card|icici.*card|sbi.*card|axis.*card|kotak.*card|yes.*bank.*card|citibank.*card)\b`},
			{Name: "card_network", Pattern: `\b(visa|mastercard|rupay|amex|american express)\b`},
			{Name: "card_status", Pattern: `\b(card.*blocked|card.*unblocked|card.*activated|card.*deactivated)\b`},
			{Name: "rewards", Pattern: `\b(reward.*points|cashback|reward.*earned|points.*credited)\b`},
			{Name: "limit_change", Pattern: `\b(credit.*limit.*increased|limit.*enhanced|credit.*line)\b`},
			{Name: "emi", Pattern: `\b(emi|equated monthly installment|convert.*emi|emi.*conversion)\b`},
			{Name: "card_usage", Pattern: `\b(card.*used|international.*transaction|online.*transaction|pos.*transaction)\b`},
			{Name: "card_security", Pattern: `\b(otp.*card|cvv|card.*verification|secure.*transaction)\b`},
			{Name: "due_notice", Pattern: `\b(due.*date|payment.*due|bill.*generated|statement.*ready)\b`},
			{Name: "autopay", Pattern: `\b(auto.*pay|autopay|scheduled.*payment|standing.*instruction)\b`},
		},
		Exclude: []Rule{
			{Name: "newsletter", Pattern: `\b(newsletter|unsubscribe|promotional|marketing|advertisement)\b`},
			{Name: "sale", Pattern: `\b(sale|discount|offer|deal|coupon|cashback offer|mega sale)\b`},
			{Name: "urgency", Pattern: `\b(limited time|hurry|don't miss|exclusive offer|special price)\b`},
			{Name: "notification", Pattern: `\b(notification|reminder|update|news|blog|article)\b`},
			{Name: "social", Pattern: `\b(facebook|twitter|instagram|linkedin|youtube|social)\b`},
			{Name: "account_security", Pattern: `\b(password|login|verification code|2fa)\b`, UnlessFollowedBy: unlessCard},
			{Name: "security_alert", Pattern: `\b(virus|malware|phishing|spam|suspicious activity)\b`},
			{Name: "bank_transfer", Pattern: `\b(bank transfer|wire transfer|neft|rtgs|imps|upi)\b`, UnlessFollowedBy: unlessCard},
			{Name: "deposits", Pattern: `\b(fixed deposit|fd|savings|salary credit|bonus credit)\b`},
			{Name: "wallet", Pattern: `\b(wallet|digital wallet|paytm wallet|phonepe wallet)\b`, UnlessFollowedBy: unlessCard},
			{Name: "utility_bill", Pattern: `\b(electricity bill|gas bill|water bill|internet bill|mobile bill)\b`, UnlessFollowedBy: unlessCard},
			{Name: "insurance_funds", Pattern: `\b(mutual fund|sip|systematic|insurance premium|policy)\b`, UnlessFollowedBy: unlessCard},
			{Name: "payroll", Pattern: `\b(salary|payroll|bonus|hr|human resources)\b`, UnlessFollowedBy: unlessCard},
		},
	}
}
