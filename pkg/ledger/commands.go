package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/pakloong/iroha/pkg/schema"
)

// Struct tags name the schema field each value is built from and encoded as.

type AddAssetQuantity struct {
	AssetID AssetID         `field:"assetId"`
	Amount  decimal.Decimal `field:"amount"`
}

func (c AddAssetQuantity) Kind() schema.Kind          { return schema.AddAssetQuantity }
func (c AddAssetQuantity) Participants() []AccountID { return nil }
func (c AddAssetQuantity) AssetRef() (AssetID, bool) { return c.AssetID, true }

type AddPeer struct {
	Peer Peer `field:"peer"`
}

func (c AddPeer) Kind() schema.Kind          { return schema.AddPeer }
func (c AddPeer) Participants() []AccountID { return nil }
func (c AddPeer) AssetRef() (AssetID, bool) { return "", false }

type AddSignatory struct {
	AccountID AccountID `field:"accountId"`
	PublicKey PublicKey `field:"publicKey"`
}

func (c AddSignatory) Kind() schema.Kind          { return schema.AddSignatory }
func (c AddSignatory) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c AddSignatory) AssetRef() (AssetID, bool) { return "", false }

type AppendRole struct {
	AccountID AccountID `field:"accountId"`
	RoleName  string    `field:"roleName"`
}

func (c AppendRole) Kind() schema.Kind          { return schema.AppendRole }
func (c AppendRole) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c AppendRole) AssetRef() (AssetID, bool) { return "", false }

type CreateAccount struct {
	AccountName string    `field:"accountName"`
	DomainID    DomainID  `field:"domainId"`
	PublicKey   PublicKey `field:"publicKey"`
}

// AccountID is the id of the account being created.
func (c CreateAccount) AccountID() AccountID { return NewAccountID(c.AccountName, c.DomainID) }

func (c CreateAccount) Kind() schema.Kind          { return schema.CreateAccount }
func (c CreateAccount) Participants() []AccountID { return []AccountID{c.AccountID()} }
func (c CreateAccount) AssetRef() (AssetID, bool) { return "", false }

type CreateAsset struct {
	AssetName string   `field:"assetName"`
	DomainID  DomainID `field:"domainId"`
	Precision uint32   `field:"precision"`
}

// AssetID is the id of the asset being defined.
func (c CreateAsset) AssetID() AssetID { return NewAssetID(c.AssetName, c.DomainID) }

func (c CreateAsset) Kind() schema.Kind          { return schema.CreateAsset }
func (c CreateAsset) Participants() []AccountID { return nil }
func (c CreateAsset) AssetRef() (AssetID, bool) { return c.AssetID(), true }

type CreateDomain struct {
	DomainID    DomainID `field:"domainId"`
	DefaultRole string   `field:"defaultRole"`
}

func (c CreateDomain) Kind() schema.Kind          { return schema.CreateDomain }
func (c CreateDomain) Participants() []AccountID { return nil }
func (c CreateDomain) AssetRef() (AssetID, bool) { return "", false }

type CreateRole struct {
	RoleName    string   `field:"roleName"`
	Permissions []string `field:"permissions"`
}

func (c CreateRole) Kind() schema.Kind          { return schema.CreateRole }
func (c CreateRole) Participants() []AccountID { return nil }
func (c CreateRole) AssetRef() (AssetID, bool) { return "", false }

type DetachRole struct {
	AccountID AccountID `field:"accountId"`
	RoleName  string    `field:"roleName"`
}

func (c DetachRole) Kind() schema.Kind          { return schema.DetachRole }
func (c DetachRole) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c DetachRole) AssetRef() (AssetID, bool) { return "", false }

type GrantPermission struct {
	AccountID      AccountID `field:"accountId"`
	PermissionName string    `field:"permissionName"`
}

func (c GrantPermission) Kind() schema.Kind          { return schema.GrantPermission }
func (c GrantPermission) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c GrantPermission) AssetRef() (AssetID, bool) { return "", false }

type RemoveSignatory struct {
	AccountID AccountID `field:"accountId"`
	PublicKey PublicKey `field:"publicKey"`
}

func (c RemoveSignatory) Kind() schema.Kind          { return schema.RemoveSignatory }
func (c RemoveSignatory) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c RemoveSignatory) AssetRef() (AssetID, bool) { return "", false }

type RevokePermission struct {
	AccountID      AccountID `field:"accountId"`
	PermissionName string    `field:"permissionName"`
}

func (c RevokePermission) Kind() schema.Kind          { return schema.RevokePermission }
func (c RevokePermission) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c RevokePermission) AssetRef() (AssetID, bool) { return "", false }

type SetAccountDetail struct {
	AccountID AccountID `field:"accountId"`
	Key       string    `field:"key"`
	Value     string    `field:"value"`
}

func (c SetAccountDetail) Kind() schema.Kind          { return schema.SetAccountDetail }
func (c SetAccountDetail) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c SetAccountDetail) AssetRef() (AssetID, bool) { return "", false }

type SetQuorum struct {
	AccountID AccountID `field:"accountId"`
	Quorum    uint32    `field:"quorum"`
}

func (c SetQuorum) Kind() schema.Kind          { return schema.SetQuorum }
func (c SetQuorum) Participants() []AccountID { return []AccountID{c.AccountID} }
func (c SetQuorum) AssetRef() (AssetID, bool) { return "", false }

type SubtractAssetQuantity struct {
	AssetID AssetID         `field:"assetId"`
	Amount  decimal.Decimal `field:"amount"`
}

func (c SubtractAssetQuantity) Kind() schema.Kind          { return schema.SubtractAssetQuantity }
func (c SubtractAssetQuantity) Participants() []AccountID { return nil }
func (c SubtractAssetQuantity) AssetRef() (AssetID, bool) { return c.AssetID, true }

type TransferAsset struct {
	SrcAccountID  AccountID       `field:"srcAccountId"`
	DestAccountID AccountID       `field:"destAccountId"`
	AssetID       AssetID         `field:"assetId"`
	Description   string          `field:"description"`
	Amount        decimal.Decimal `field:"amount"`
}

func (c TransferAsset) Kind() schema.Kind { return schema.TransferAsset }
func (c TransferAsset) Participants() []AccountID {
	return []AccountID{c.SrcAccountID, c.DestAccountID}
}
func (c TransferAsset) AssetRef() (AssetID, bool) { return c.AssetID, true }

// TransferAccount hands an account over from one key holder to another.
type TransferAccount struct {
	Sender            PublicKey `field:"sender"`
	ReceiverPublicKey PublicKey `field:"receiverPublicKey"`
	Account           Account   `field:"account"`
}

func (c TransferAccount) Kind() schema.Kind          { return schema.TransferAccount }
func (c TransferAccount) Participants() []AccountID { return []AccountID{c.Account.AccountID} }
func (c TransferAccount) AssetRef() (AssetID, bool) { return "", false }
