package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pakloong/iroha/pkg/schema"
)

func TestIdentifiers(t *testing.T) {
	acc := NewAccountID("alice", "wonderland")
	assert.Equal(t, AccountID("alice@wonderland"), acc)
	name, domain, ok := acc.Split()
	assert.True(t, ok)
	assert.Equal(t, "alice", name)
	assert.Equal(t, DomainID("wonderland"), domain)

	asset := NewAssetID("rose", "wonderland")
	assert.Equal(t, "rose#wonderland", asset.String())
	_, _, ok = AssetID("rose").Split()
	assert.False(t, ok)

	assert.Equal(t, "0aff", PublicKey{0x0a, 0xff}.String())
	assert.True(t, Hash{}.IsZero())
	assert.False(t, Hash{1}.IsZero())
}

func TestWithSignaturesCopies(t *testing.T) {
	base := Block{Height: 1}.WithSignatures(Signature{Signature: []byte{1}})
	extended := base.WithSignatures(Signature{Signature: []byte{2}})

	assert.Len(t, base.Signatures, 1)
	assert.Len(t, extended.Signatures, 2)

	tx := Transaction{}.WithSignatures(Signature{Signature: []byte{3}})
	assert.Len(t, tx.Signatures, 1)
}

func TestCommandTypesCoverEveryCommandKind(t *testing.T) {
	commands := schema.Kinds(schema.CategoryCommand)
	assert.Len(t, commands, 17)
	for _, kind := range commands {
		_, ok := CommandType(kind)
		assert.True(t, ok, string(kind))
	}
	for _, kind := range schema.Kinds(schema.CategoryObject) {
		_, ok := CommandType(kind)
		assert.False(t, ok, string(kind))
	}
}

func TestCommandParticipants(t *testing.T) {
	tests := []struct {
		cmd          Command
		participants []AccountID
		asset        AssetID
	}{
		{TransferAsset{SrcAccountID: "a@d", DestAccountID: "b@d", AssetID: "c#d"}, []AccountID{"a@d", "b@d"}, "c#d"},
		{CreateAccount{AccountName: "n", DomainID: "d"}, []AccountID{"n@d"}, ""},
		{CreateAsset{AssetName: "c", DomainID: "d"}, nil, "c#d"},
		{AddAssetQuantity{AssetID: "c#d"}, nil, "c#d"},
		{SetQuorum{AccountID: "a@d"}, []AccountID{"a@d"}, ""},
		{TransferAccount{Account: Account{AccountID: "a@d"}}, []AccountID{"a@d"}, ""},
		{AddPeer{}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.cmd.Kind()), func(t *testing.T) {
			assert.Equal(t, tt.participants, tt.cmd.Participants())
			asset, ok := tt.cmd.AssetRef()
			assert.Equal(t, tt.asset != "", ok)
			assert.Equal(t, tt.asset, asset)
		})
	}
}
