package posting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// Role is a semantic account used by the posting triggers.
type Role string

const (
	RoleCash               Role = "cash"
	RoleBank               Role = "bank"
	RoleAccountsReceivable Role = "accounts_receivable"
	RoleAccountsPayable    Role = "accounts_payable"
	RoleSalesRevenue       Role = "sales_revenue"
	RoleCostOfGoodsSold    Role = "cost_of_goods_sold"
	RoleInventory          Role = "inventory"
	RoleIncomeSummary      Role = "income_summary"
	RoleRetainedEarnings   Role = "retained_earnings"
)

// Resolution sources, from most to least specific.
const (
	SourceConfigured    = "configured"
	SourceExactName     = "exact_name"
	SourceCategoryMatch = "category_match"
	SourceTypeMatch     = "type_match"
	SourceDefault       = "default"
)

type roleSpec struct {
	typ      model.AccountType
	category string
	names    []string // exact names, case-insensitive
	keyword  string   // substring for the contains stages
	code     string
}

var roleSpecs = map[Role]roleSpec{
	RoleCash: {model.AccountTypeAsset, accounts.CategoryCurrentAssets,
		[]string{"Cash", "Cash in Hand", "Cash on Hand"}, "cash", accounts.CodeCash},
	RoleBank: {model.AccountTypeAsset, accounts.CategoryCurrentAssets,
		[]string{"Bank", "Bank Account", "Checking"}, "bank", accounts.CodeBank},
	RoleAccountsReceivable: {model.AccountTypeAsset, accounts.CategoryCurrentAssets,
		[]string{"Accounts Receivable", "Trade Receivables"}, "receivable", accounts.CodeAccountsReceivable},
	RoleAccountsPayable: {model.AccountTypeLiability, accounts.CategoryCurrentLiabilities,
		[]string{"Accounts Payable", "Trade Payables"}, "payable", accounts.CodeAccountsPayable},
	RoleSalesRevenue: {model.AccountTypeRevenue, accounts.CategoryOperatingRevenue,
		[]string{"Sales Revenue", "Sales"}, "sales", accounts.CodeSalesRevenue},
	RoleCostOfGoodsSold: {model.AccountTypeExpense, accounts.CategoryCostOfSales,
		[]string{"Cost of Goods Sold", "COGS", "Cost of Sales"}, "cost of", accounts.CodeCostOfGoodsSold},
	RoleInventory: {model.AccountTypeAsset, accounts.CategoryCurrentAssets,
		[]string{"Inventory", "Stock"}, "inventory", accounts.CodeInventory},
	RoleIncomeSummary: {model.AccountTypeEquity, accounts.CategoryEquity,
		[]string{"Income Summary"}, "income summary", accounts.CodeIncomeSummary},
	RoleRetainedEarnings: {model.AccountTypeEquity, accounts.CategoryEquity,
		[]string{"Retained Earnings"}, "retained", accounts.CodeRetainedEarnings},
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	out := make([]Role, 0, len(roleSpecs))
	for r := range roleSpecs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolution is how a role was mapped to an account code.
type Resolution struct {
	Role     Role
	Code     string
	Source   string
	Fallback bool
}

// Resolver maps roles to account codes: configured code, then exact name
// within the role's type, then name match within type and category, then
// within type alone, then the default chart's code. Results are cached.
type Resolver struct {
	store      store.Store
	configured map[string]string
	log        zerolog.Logger

	mu    sync.RWMutex
	cache map[Role]Resolution
}

// NewResolver creates a resolver over the configured role table.
func NewResolver(st store.Store, configured map[string]string, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:      st,
		configured: configured,
		log:        log,
		cache:      make(map[Role]Resolution),
	}
}

// ResolveAll resolves every role in one pass and caches the results.
func (r *Resolver) ResolveAll(ctx context.Context) (map[Role]Resolution, error) {
	var chart []model.Account
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		chart, err = tx.ListAccounts(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading chart for role resolution: %w", err)
	}

	out := make(map[Role]Resolution, len(roleSpecs))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range Roles() {
		res := r.resolve(role, chart)
		r.cache[role] = res
		out[role] = res
	}
	return out, nil
}

// Code returns the account code for role, resolving it on first use.
func (r *Resolver) Code(ctx context.Context, role Role) (string, error) {
	r.mu.RLock()
	res, ok := r.cache[role]
	r.mu.RUnlock()
	if ok {
		return res.Code, nil
	}
	if _, known := roleSpecs[role]; !known {
		return "", ledgererr.Invalid("unknown account role %q", role)
	}

	all, err := r.ResolveAll(ctx)
	if err != nil {
		return "", err
	}
	return all[role].Code, nil
}

// Invalidate drops cached resolutions, e.g. after the chart changes.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[Role]Resolution)
	r.mu.Unlock()
}

func (r *Resolver) resolve(role Role, chart []model.Account) Resolution {
	spec := roleSpecs[role]
	byCode := make(map[string]model.Account, len(chart))
	for _, a := range chart {
		byCode[a.Code] = a
	}

	if code, ok := r.configured[string(role)]; ok && code != "" {
		code = model.CanonicalCode(code)
		if _, exists := byCode[code]; exists {
			return Resolution{Role: role, Code: code, Source: SourceConfigured}
		}
		r.log.Warn().Str("role", string(role)).Str("code", code).Msg("configured role account does not exist")
	}

	candidates := postableOfType(chart, spec.typ)
	res := Resolution{Role: role, Code: spec.code, Source: SourceDefault, Fallback: true}
	if a, ok := find(candidates, func(a model.Account) bool { return exactName(a.Name, spec.names) }); ok {
		res.Code, res.Source = a.Code, SourceExactName
	} else if a, ok := find(candidates, func(a model.Account) bool {
		return a.Category == spec.category && containsFold(a.Name, spec.keyword)
	}); ok {
		res.Code, res.Source = a.Code, SourceCategoryMatch
	} else if a, ok := find(candidates, func(a model.Account) bool { return containsFold(a.Name, spec.keyword) }); ok {
		res.Code, res.Source = a.Code, SourceTypeMatch
	}

	r.log.Warn().
		Bool("fallback", true).
		Str("role", string(role)).
		Str("code", res.Code).
		Str("source", res.Source).
		Msg("account role resolved without configuration")
	return res
}

// postableOfType returns active, directly postable accounts of type t ordered by code.
func postableOfType(chart []model.Account, t model.AccountType) []model.Account {
	var out []model.Account
	for _, a := range chart {
		if a.Type == t && a.IsActive && a.AllowDirectPosting {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func find(accts []model.Account, pred func(model.Account) bool) (model.Account, bool) {
	for _, a := range accts {
		if pred(a) {
			return a, true
		}
	}
	return model.Account{}, false
}

func exactName(name string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}
