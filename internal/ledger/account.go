package ledger

import "time"

// Classification groups account types by which side of the net-worth
// equation they sit on. It determines the sign convention applied to
// entry flows (see FlowsFactor).
type Classification string

const (
	ClassificationAsset     Classification = "asset"
	ClassificationLiability Classification = "liability"
)

// AccountType identifies the kind of financial account being tracked.
type AccountType string

const (
	AccountTypeDepository AccountType = "depository"
	AccountTypeCreditCard AccountType = "credit_card"
	AccountTypeLoan       AccountType = "loan"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeMetal      AccountType = "metal"
	AccountTypeBNPL       AccountType = "bnpl"
	AccountTypeLending    AccountType = "lending"
	AccountTypeProperty   AccountType = "property"
)

// classifications maps each account type to its classification.
// Lending is money owed TO the user, so it is an asset despite being debt.
var classifications = map[AccountType]Classification{
	AccountTypeDepository: ClassificationAsset,
	AccountTypeCreditCard: ClassificationLiability,
	AccountTypeLoan:       ClassificationLiability,
	AccountTypeInvestment: ClassificationAsset,
	AccountTypeMetal:      ClassificationAsset,
	AccountTypeBNPL:       ClassificationLiability,
	AccountTypeLending:    ClassificationAsset,
	AccountTypeProperty:   ClassificationAsset,
}

// nonCashTypes hold value that is not cash: their balance can move
// without any cash flow (market prices, appraisals).
var nonCashTypes = map[AccountType]bool{
	AccountTypeInvestment: true,
	AccountTypeMetal:      true,
	AccountTypeProperty:   true,
}

// Account is a single financial account belonging to a family.
type Account struct {
	ID           string
	FamilyID     string
	Name         string
	Type         AccountType
	Currency     string
	CreatedAt    time.Time
	LastSyncedAt *time.Time
}

// Classification returns the account's asset/liability classification.
// Unknown types default to asset.
func (a Account) Classification() Classification {
	if c, ok := classifications[a.Type]; ok {
		return c
	}
	return ClassificationAsset
}

// FlowsFactor is the sign multiplier converting a raw signed entry amount
// into its effect on this account's balance: +1 for assets, -1 for
// liabilities. An inflow (raw negative amount) increases an asset balance
// and decreases a liability balance by the same absolute value.
func (a Account) FlowsFactor() int {
	if a.Classification() == ClassificationLiability {
		return -1
	}
	return 1
}

// HoldsNonCash reports whether the account's value includes a non-cash
// component (investments, metals, property).
func (a Account) HoldsNonCash() bool {
	return nonCashTypes[a.Type]
}

// Family is a group of accounts synced and reported together.
type Family struct {
	ID           string
	Name         string
	Currency     string
	CreatedAt    time.Time
	LastSyncedAt *time.Time
}
