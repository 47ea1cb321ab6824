package accounts

import "github.com/cleared-dev/ledger/internal/model"

// Codes of the system accounts in the default chart.
const (
	CodeCash               = "1001"
	CodeBank               = "1002"
	CodeAccountsReceivable = "1100"
	CodeInventory          = "1200"
	CodeAccountsPayable    = "2001"
	CodeRetainedEarnings   = "3100"
	CodeIncomeSummary      = "3200"
	CodeSalesRevenue       = "4001"
	CodeCostOfGoodsSold    = "5001"
)

// Categories used by the default chart.
const (
	CategoryCurrentAssets      = "current_assets"
	CategoryCurrentLiabilities = "current_liabilities"
	CategoryEquity             = "equity"
	CategoryOperatingRevenue   = "operating_revenue"
	CategoryCostOfSales        = "cost_of_sales"
	CategoryOperatingExpenses  = "operating_expenses"
)

// DefaultChart returns the default chart of accounts for a retail business.
// Parents precede their children.
func DefaultChart() []model.Account {
	return []model.Account{
		summary("1000", "Assets", model.AccountTypeAsset, CategoryCurrentAssets),
		system(CodeCash, "Cash", model.AccountTypeAsset, CategoryCurrentAssets, "1000"),
		system(CodeBank, "Bank", model.AccountTypeAsset, CategoryCurrentAssets, "1000"),
		system(CodeAccountsReceivable, "Accounts Receivable", model.AccountTypeAsset, CategoryCurrentAssets, "1000"),
		system(CodeInventory, "Inventory", model.AccountTypeAsset, CategoryCurrentAssets, "1000"),

		summary("2000", "Liabilities", model.AccountTypeLiability, CategoryCurrentLiabilities),
		system(CodeAccountsPayable, "Accounts Payable", model.AccountTypeLiability, CategoryCurrentLiabilities, "2000"),
		leaf("2100", "Accrued Liabilities", model.AccountTypeLiability, CategoryCurrentLiabilities, "2000"),

		summary("3000", "Equity", model.AccountTypeEquity, CategoryEquity),
		leaf("3001", "Owner's Capital", model.AccountTypeEquity, CategoryEquity, "3000"),
		system(CodeRetainedEarnings, "Retained Earnings", model.AccountTypeEquity, CategoryEquity, "3000"),
		system(CodeIncomeSummary, "Income Summary", model.AccountTypeEquity, CategoryEquity, "3000"),

		summary("4000", "Revenue", model.AccountTypeRevenue, CategoryOperatingRevenue),
		system(CodeSalesRevenue, "Sales Revenue", model.AccountTypeRevenue, CategoryOperatingRevenue, "4000"),
		leaf("4100", "Service Revenue", model.AccountTypeRevenue, CategoryOperatingRevenue, "4000"),
		leaf("4900", "Other Income", model.AccountTypeRevenue, CategoryOperatingRevenue, "4000"),

		summary("5000", "Expenses", model.AccountTypeExpense, CategoryOperatingExpenses),
		system(CodeCostOfGoodsSold, "Cost of Goods Sold", model.AccountTypeExpense, CategoryCostOfSales, "5000"),
		leaf("5100", "Rent Expense", model.AccountTypeExpense, CategoryOperatingExpenses, "5000"),
		leaf("5200", "Salaries Expense", model.AccountTypeExpense, CategoryOperatingExpenses, "5000"),
		leaf("5300", "Utilities Expense", model.AccountTypeExpense, CategoryOperatingExpenses, "5000"),
		leaf("5400", "Office Supplies", model.AccountTypeExpense, CategoryOperatingExpenses, "5000"),
		leaf("5500", "Bank Fees", model.AccountTypeExpense, CategoryOperatingExpenses, "5000"),
	}
}

func summary(code, name string, t model.AccountType, category string) model.Account {
	return model.Account{
		Code:            code,
		Name:            name,
		Type:            t,
		Category:        category,
		NormalBalance:   model.NormalBalanceFor(t),
		IsSystemAccount: true,
		IsActive:        true,
	}
}

func leaf(code, name string, t model.AccountType, category, parent string) model.Account {
	return model.Account{
		Code:               code,
		Name:               name,
		Type:               t,
		Category:           category,
		NormalBalance:      model.NormalBalanceFor(t),
		ParentCode:         parent,
		Level:              1,
		AllowDirectPosting: true,
		IsActive:           true,
	}
}

func system(code, name string, t model.AccountType, category, parent string) model.Account {
	a := leaf(code, name, t, category, parent)
	a.IsSystemAccount = true
	return a
}
