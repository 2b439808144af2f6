/*
Package assistant turns free-text input into draft transactions.

PURPOSE:
  "lunch 12.50 at mario's, got paid 2000 yesterday" becomes two drafts the
  caller can review or commit through the Ledger. A text-completion model
  does the extraction; keyword mappings then override the model's category
  guess whenever a known keyword occurs in the description.

FLOW:
  1. Build a fixed instruction prompt listing known category and wallet names
  2. Complete(prompt) -> raw model text
  3. Strip Markdown fences / chatter around the JSON array
  4. Decode drafts, normalize sign and type
  5. Apply keyword mappings (longest keyword wins)

SEE ALSO:
  - gemini.go: Completer backed by Google Gemini
  - finance/keywords.go: MatchKeyword
*/
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// ErrUnavailable is returned when no completer is configured.
var ErrUnavailable = errors.New("assistant unavailable")

// Completer sends a prompt to a text model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Catalog is the read side of the Ledger the parser consults.
type Catalog interface {
	ListCategories(ctx context.Context) ([]finance.Category, error)
	ListWallets(ctx context.Context) ([]finance.Wallet, error)
	ListKeywordMappings(ctx context.Context) ([]finance.KeywordMapping, error)
}

// Draft is a parsed, uncommitted transaction. Category and Wallet are
// references (name or id) for the Ledger's resolver.
type Draft struct {
	Amount      decimal.Decimal
	Description string
	Type        finance.TxType
	Category    string
	Wallet      string
	Date        *time.Time

	// KeywordMatched is set when a keyword mapping chose Category.
	KeywordMatched bool
}

// Input converts d into a Ledger create request.
func (d Draft) Input() finance.TransactionInput {
	return finance.TransactionInput{
		Amount:      d.Amount,
		Description: d.Description,
		Type:        d.Type,
		CategoryRef: d.Category,
		WalletRef:   d.Wallet,
		Date:        d.Date,
	}
}

type Parser struct {
	completer Completer
	catalog   Catalog
	now       func() time.Time
}

func NewParser(completer Completer, catalog Catalog) *Parser {
	return &Parser{
		completer: completer,
		catalog:   catalog,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Parse extracts drafts from text.
func (p *Parser) Parse(ctx context.Context, text string) ([]Draft, error) {
	if p == nil || p.completer == nil {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return nil, &finance.ValidationError{Fields: []finance.FieldError{{Field: "text", Message: "must not be empty"}}}
	}

	categories, err := p.catalog.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	wallets, err := p.catalog.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	mappings, err := p.catalog.ListKeywordMappings(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := p.completer.Complete(ctx, buildPrompt(text, categories, wallets, p.now()))
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty response from model")
	}

	var parsed []modelDraft
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w", err)
	}

	drafts := make([]Draft, 0, len(parsed))
	for _, m := range parsed {
		d := m.draft()
		if id, ok := finance.MatchKeyword(mappings, d.Description); ok {
			d.Category = id
			d.KeywordMatched = true
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// =============================================================================
// MODEL OUTPUT
// =============================================================================

type modelDraft struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Wallet      string          `json:"wallet"`
	Date        string          `json:"date"`
}

func (m modelDraft) draft() Draft {
	d := Draft{
		Amount:      m.Amount,
		Description: strings.TrimSpace(m.Description),
		Type:        finance.TxType(strings.ToLower(strings.TrimSpace(m.Type))),
		Category:    strings.TrimSpace(m.Category),
		Wallet:      strings.TrimSpace(m.Wallet),
	}
	// Models like to sign expenses; amounts are stored unsigned.
	if d.Amount.IsNegative() {
		d.Amount = d.Amount.Neg()
		if !d.Type.Valid() {
			d.Type = finance.TypeExpense
		}
	}
	if !d.Type.Valid() {
		d.Type = finance.TypeExpense
	}
	if t, err := finance.ParseTime(strings.TrimSpace(m.Date)); err == nil {
		d.Date = &t
	}
	return d
}

const instructions = `You convert personal finance notes into JSON.
Return ONLY a JSON array, no prose. Each element:
{"amount": "<positive decimal>", "description": "<short text>", "type": "expense" | "income",
 "category": "<category name>", "wallet": "<wallet name or empty>", "date": "<YYYY-MM-DD or empty>"}
Prefer the known category and wallet names below when they fit.
Today is %s.

Known categories: %s
Known wallets: %s

Input:
%s`

func buildPrompt(text string, categories []finance.Category, wallets []finance.Wallet, now time.Time) string {
	categoryNames := make([]string, len(categories))
	for i, c := range categories {
		categoryNames[i] = fmt.Sprintf("%s (%s)", c.Name, c.DefaultType)
	}
	walletNames := make([]string, len(wallets))
	for i, w := range wallets {
		walletNames[i] = w.Name
	}
	return fmt.Sprintf(instructions,
		now.Format(time.DateOnly),
		listOrNone(categoryNames),
		listOrNone(walletNames),
		text,
	)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

// cleanModelJSON strips Markdown fences and any text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the fence line (``` or ```json).
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
