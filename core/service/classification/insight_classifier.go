// Package classification decides which emails are worth sending to extraction.
package classification

import (
	"math"
	"strings"

	"insight_server/core/domain"
)

// bodyPreviewRunes is how much of the body takes part in classification.
const bodyPreviewRunes = 200

// Match is a classification outcome with the rule that produced it.
type Match struct {
	Tier domain.RelevanceTier
	Rule string // empty when no rule matched
}

// Classifier is a pure, stateless relevance classifier over ordered rule tiers.
// Exclude rules win over everything, then high confidence, then medium.
type Classifier struct {
	rules RuleSet
}

// NewClassifier compiles rules and returns a classifier.
func NewClassifier(rules RuleSet) (*Classifier, error) {
	if err := rules.Compile(); err != nil {
		return nil, err
	}
	return &Classifier{rules: rules}, nil
}

// NewDefaultClassifier returns a classifier with the built-in rules.
func NewDefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultRuleSet())
	if err != nil {
		panic(err) // built-in patterns are constant
	}
	return c
}

// Classify returns the relevance tier of an email.
func (c *Classifier) Classify(email domain.EmailRecord) domain.RelevanceTier {
	return c.Explain(email).Tier
}

// Explain returns the tier together with the first matching rule.
func (c *Classifier) Explain(email domain.EmailRecord) Match {
	text := normalize(email)

	if name, ok := firstMatch(c.rules.Exclude, text); ok {
		return Match{Tier: domain.TierProbablyNot, Rule: name}
	}
	if name, ok := firstMatch(c.rules.High, text); ok {
		return Match{Tier: domain.TierDefinitelyFinancial, Rule: name}
	}
	if name, ok := firstMatch(c.rules.Medium, text); ok {
		return Match{Tier: domain.TierMaybeFinancial, Rule: name}
	}
	return Match{Tier: domain.TierProbablyNot}
}

// ClassifyBatch partitions emails by tier, preserving input order per bucket.
func (c *Classifier) ClassifyBatch(emails []domain.EmailRecord) domain.Partition {
	p := domain.Partition{
		DefinitelyFinancial: []domain.EmailRecord{},
		MaybeFinancial:      []domain.EmailRecord{},
		ProbablyNot:         []domain.EmailRecord{},
	}
	for _, email := range emails {
		switch c.Classify(email) {
		case domain.TierDefinitelyFinancial:
			p.DefinitelyFinancial = append(p.DefinitelyFinancial, email)
		case domain.TierMaybeFinancial:
			p.MaybeFinancial = append(p.MaybeFinancial, email)
		default:
			p.ProbablyNot = append(p.ProbablyNot, email)
		}
	}
	return p
}

// GetStats summarizes a partition. AIProcessingReduction is the share of
// emails skipped by extraction, in percent with one decimal.
func GetStats(p domain.Partition) domain.ClassificationStats {
	total := p.Total()
	stats := domain.ClassificationStats{
		Total:               total,
		DefinitelyFinancial: len(p.DefinitelyFinancial),
		MaybeFinancial:      len(p.MaybeFinancial),
		ProbablyNot:         len(p.ProbablyNot),
		WillProcessWithAI:   len(p.DefinitelyFinancial) + len(p.MaybeFinancial),
	}
	if total > 0 {
		stats.AIProcessingReduction = math.Round(float64(len(p.ProbablyNot))/float64(total)*1000) / 10
	}
	return stats
}

func normalize(email domain.EmailRecord) string {
	body := email.BodyText
	if r := []rune(body); len(r) > bodyPreviewRunes {
		body = string(r[:bodyPreviewRunes])
	}
	return strings.ToLower(email.Subject + " " + email.From + " " + body)
}

func firstMatch(rules []Rule, text string) (string, bool) {
	for i := range rules {
		if rules[i].Match(text) {
			return rules[i].Name, true
		}
	}
	return "", false
}
