package ledger

import (
	"ParamLedger/internal/fault"
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeWallet accounts belong to a party; only the owner may debit them.
	AccountScopeWallet AccountScope = iota
	// AccountScopeCustody accounts are controlled by a policy or master record.
	AccountScopeCustody
	// AccountScopeExternal is the off-ledger boundary. It may go negative.
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	SubTypeMain AccountSubType = iota
	SubTypePool
	SubTypeDeposit
	SubTypeVault

	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

var subTypeNames = map[AccountSubType]string{
	SubTypeMain:                "main",
	SubTypePool:                "pool",
	SubTypeDeposit:             "deposit",
	SubTypeVault:               "vault",
	SubTypeExternalDeposits:    "deposits",
	SubTypeExternalWithdrawals: "withdrawals",
}

func (s AccountSubType) String() string {
	if name, ok := subTypeNames[s]; ok {
		return name
	}
	return "unknown"
}

// AssetID maps currency codes to numeric IDs
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"KRW":  3,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "KRW",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey identifies one balance in the custody ledger. Owner is the
// controlling identity: a party for wallets, a record authority for custody
// accounts, empty for external accounts. Label tells apart several accounts
// with the same owner and sub-type (one pool wallet per master participant).
type AccountKey struct {
	Scope   AccountScope
	Owner   string
	SubType AccountSubType
	Label   string
	AssetID AssetID
}

// NewWalletKey creates a key for a party-owned wallet
func NewWalletKey(owner string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeWallet,
		Owner:   owner,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewCustodyKey creates a key for an account controlled by a record authority
func NewCustodyKey(authority string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeCustody,
		Owner:   authority,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// WithLabel returns a copy of k carrying label.
func (k AccountKey) WithLabel(label string) AccountKey {
	k.Label = label
	return k
}

func (k AccountKey) subTypeSegment() string {
	if k.Label == "" {
		return k.SubType.String()
	}
	return k.SubType.String() + "." + k.Label
}

// IsZero reports an unset key (an unregistered wallet slot).
func (k AccountKey) IsZero() bool {
	return k == AccountKey{}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	if k.IsZero() {
		return ""
	}
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeWallet:
		return fmt.Sprintf("wallet:%s:%s:%s", k.Owner, k.subTypeSegment(), assetName)
	case AccountScopeCustody:
		return fmt.Sprintf("custody:%s:%s:%s", k.Owner, k.subTypeSegment(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType, assetName)
	}
	return "unknown"
}

func (k AccountKey) String() string { return k.AccountPath() }

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	if path == "" {
		return AccountKey{}, nil
	}
	parts := strings.Split(path, ":")

	var scope AccountScope
	var owner, subName, assetName string
	switch {
	case len(parts) == 4 && parts[0] == "wallet":
		scope, owner, subName, assetName = AccountScopeWallet, parts[1], parts[2], parts[3]
	case len(parts) == 4 && parts[0] == "custody":
		scope, owner, subName, assetName = AccountScopeCustody, parts[1], parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "external":
		scope, subName, assetName = AccountScopeExternal, parts[1], parts[2]
	default:
		return AccountKey{}, fmt.Errorf("account path %q: %w", path, fault.ErrInvalidInput)
	}

	if scope != AccountScopeExternal && owner == "" {
		return AccountKey{}, fmt.Errorf("account path %q has no owner: %w", path, fault.ErrInvalidInput)
	}

	var label string
	if i := strings.IndexByte(subName, '.'); i >= 0 {
		subName, label = subName[:i], subName[i+1:]
		if label == "" || scope == AccountScopeExternal {
			return AccountKey{}, fmt.Errorf("account path %q label: %w", path, fault.ErrInvalidInput)
		}
	}
	subType, ok := parseSubType(subName)
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q sub-type: %w", path, fault.ErrInvalidInput)
	}
	assetID, ok := GetAssetID(assetName)
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q asset: %w", path, fault.ErrInvalidInput)
	}

	return AccountKey{Scope: scope, Owner: owner, SubType: subType, Label: label, AssetID: assetID}, nil
}

func parseSubType(name string) (AccountSubType, bool) {
	for st, n := range subTypeNames {
		if n == name {
			return st, true
		}
	}
	return 0, false
}

// MarshalText encodes the key as its account path.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

// UnmarshalText decodes an account path.
func (k *AccountKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountPath(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
