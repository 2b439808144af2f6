/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Entity responses reuse
  the finance Wire* shapes so the HTTP body and the serialized document are
  the same thing; request types live here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Wallet:       CreateWalletRequest, UpdateWalletRequest
  Category:     CreateCategoryRequest, UpdateCategoryRequest
  Transaction:  CreateTransactionRequest, UpdateTransactionRequest
  Keyword:      CreateKeywordRequest
  Assistant:    ParseRequest, DraftDTO, ParseResponse
  Admin:        ReconcileRequest, DriftDTO, ReconcileResponse

AMOUNTS:
  Amounts are decimals and accept either a JSON string ("12.50") or a
  JSON number (12.5). Responses always render them as strings.

REFERENCE UPDATES:
  In UpdateTransactionRequest an absent categoryId or walletId keeps the
  reference, while null or "" clears it. A response body sent back
  unchanged therefore keeps a missing reference missing.

VALIDATION:
  Field rules live in the finance package. Handlers only convert shapes
  and report fields that cannot be parsed at all (dates).

SEE ALSO:
  - handlers.go: Uses these types
  - finance/wire.go: Wire* response shapes
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/assistant"
	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// WALLETS
// =============================================================================

type CreateWalletRequest struct {
	Name string `json:"name"`
}

type UpdateWalletRequest struct {
	Name string `json:"name"`
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CreateCategoryRequest struct {
	Name        string `json:"name"`
	DefaultType string `json:"defaultType"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
	IsDefault   bool   `json:"isDefault"`
}

// UpdateCategoryRequest changes only the fields present in the body.
type UpdateCategoryRequest struct {
	Name        *string `json:"name"`
	DefaultType *string `json:"defaultType"`
	Color       *string `json:"color"`
	Icon        *string `json:"icon"`
	IsDefault   *bool   `json:"isDefault"`
}

func (req CreateCategoryRequest) input() finance.CategoryInput {
	return finance.CategoryInput{
		Name:        req.Name,
		DefaultType: finance.TxType(req.DefaultType),
		Color:       req.Color,
		Icon:        req.Icon,
		IsDefault:   req.IsDefault,
	}
}

func (req UpdateCategoryRequest) patch() finance.CategoryPatch {
	p := finance.CategoryPatch{
		Name:      req.Name,
		Color:     req.Color,
		Icon:      req.Icon,
		IsDefault: req.IsDefault,
	}
	if req.DefaultType != nil {
		t := finance.TxType(*req.DefaultType)
		p.DefaultType = &t
	}
	return p
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest creates a transaction. CategoryID and WalletID
// accept a canonical id or a name.
type CreateTransactionRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	CategoryID  string           `json:"categoryId"`
	WalletID    string           `json:"walletId"`
	Date        string           `json:"date"`
	Status      string           `json:"status"`
}

// UpdateTransactionRequest changes only the fields present in the body.
// A null or empty categoryId or walletId clears the reference.
type UpdateTransactionRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Description *string          `json:"description"`
	Type        *string          `json:"type"`
	CategoryID  optionalRef      `json:"categoryId"`
	WalletID    optionalRef      `json:"walletId"`
	Date        *string          `json:"date"`
	Status      *string          `json:"status"`
}

// optionalRef records whether a reference key was present at all, so an
// explicit null can be told apart from an absent key.
type optionalRef struct {
	Set   bool
	Value string
}

func (o *optionalRef) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

func (o optionalRef) ref() *string {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

func (req CreateTransactionRequest) input() (finance.TransactionInput, error) {
	v := &finance.ValidationError{}
	in := finance.TransactionInput{
		Description: req.Description,
		Type:        finance.TxType(req.Type),
		CategoryRef: req.CategoryID,
		WalletRef:   req.WalletID,
		Status:      finance.TxStatus(req.Status),
	}
	if req.Amount == nil {
		v.Fields = append(v.Fields, finance.FieldError{Field: "amount", Message: "is required"})
	} else {
		in.Amount = *req.Amount
	}
	if req.Date != "" {
		d, err := finance.ParseTime(req.Date)
		if err != nil {
			v.Fields = append(v.Fields, finance.FieldError{Field: "date", Message: "must be RFC 3339 or YYYY-MM-DD"})
		} else {
			in.Date = &d
		}
	}
	if len(v.Fields) > 0 {
		return in, v
	}
	return in, nil
}

func (req UpdateTransactionRequest) patch() (finance.TransactionPatch, error) {
	p := finance.TransactionPatch{
		Amount:      req.Amount,
		Description: req.Description,
		CategoryRef: req.CategoryID.ref(),
		WalletRef:   req.WalletID.ref(),
	}
	if req.Type != nil {
		t := finance.TxType(*req.Type)
		p.Type = &t
	}
	if req.Status != nil {
		s := finance.TxStatus(*req.Status)
		p.Status = &s
	}
	if req.Date != nil {
		d, err := finance.ParseTime(*req.Date)
		if err != nil {
			return p, &finance.ValidationError{Fields: []finance.FieldError{
				{Field: "date", Message: "must be RFC 3339 or YYYY-MM-DD"},
			}}
		}
		p.Date = &d
	}
	return p, nil
}

// =============================================================================
// KEYWORDS
// =============================================================================

type CreateKeywordRequest struct {
	Keyword    string `json:"keyword"`
	CategoryID string `json:"categoryId"`
}

// =============================================================================
// ASSISTANT
// =============================================================================

// ParseRequest asks the assistant to extract transactions from text.
// With Commit set, every draft is created through the ledger.
type ParseRequest struct {
	Text   string `json:"text"`
	Commit bool   `json:"commit"`
}

type DraftDTO struct {
	Amount         string  `json:"amount"`
	Description    string  `json:"description"`
	Type           string  `json:"type"`
	Category       string  `json:"category"`
	Wallet         string  `json:"wallet"`
	Date           *string `json:"date"`
	KeywordMatched bool    `json:"keywordMatched"`
}

// DraftFailureDTO reports a draft that could not be committed.
type DraftFailureDTO struct {
	Index  int                  `json:"index"`
	Error  string               `json:"error"`
	Fields []finance.FieldError `json:"fields,omitempty"`
}

type ParseResponse struct {
	Drafts       []DraftDTO                `json:"drafts"`
	Transactions []finance.WireTransaction `json:"transactions,omitempty"`
	Failures     []DraftFailureDTO         `json:"failures,omitempty"`
}

func toDraftDTO(d assistant.Draft) DraftDTO {
	dto := DraftDTO{
		Amount:         d.Amount.String(),
		Description:    d.Description,
		Type:           string(d.Type),
		Category:       d.Category,
		Wallet:         d.Wallet,
		KeywordMatched: d.KeywordMatched,
	}
	if d.Date != nil {
		s := d.Date.UTC().Format(time.DateOnly)
		dto.Date = &s
	}
	return dto
}

// =============================================================================
// ADMIN
// =============================================================================

type ReconcileRequest struct {
	Repair bool `json:"repair"`
}

type DriftDTO struct {
	WalletID string `json:"walletId"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
	Drift    string `json:"drift"`
	Repaired bool   `json:"repaired"`
}

type ReconcileResponse struct {
	Repair bool       `json:"repair"`
	Drifts []DriftDTO `json:"drifts"`
}

func toDriftDTO(d finance.Drift) DriftDTO {
	return DriftDTO{
		WalletID: d.WalletID,
		Stored:   d.Stored.String(),
		Computed: d.Computed.String(),
		Drift:    d.Amount().String(),
		Repaired: d.Repaired,
	}
}

// =============================================================================
// ERRORS & HEALTH
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string               `json:"error"`
	Code    string               `json:"code,omitempty"`
	Details any                  `json:"details,omitempty"`
	Fields  []finance.FieldError `json:"fields,omitempty"`
}

type HealthDTO struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
