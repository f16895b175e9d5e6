package domain

import (
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/identity"

	"github.com/google/uuid"
)

// ContractID identifies a contract for its whole life. IDs are never reused.
type ContractID uuid.UUID

func NewContractID() ContractID { return ContractID(uuid.New()) }

// ParseContractID decodes the canonical text form. Malformed input is an
// InvalidArgument error, never a miss.
func ParseContractID(s string) (ContractID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ContractID{}, apierr.Wrap(apierr.InvalidArgument, "invalid contract id "+quote(s), err)
	}
	return ContractID(u), nil
}

func (id ContractID) String() string { return uuid.UUID(id).String() }

func (id ContractID) IsZero() bool { return id == ContractID{} }

func (id ContractID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ContractID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = ContractID(u)
	return nil
}

type Signer string

const (
	SignerBuyer  Signer = "BUYER"
	SignerSeller Signer = "SELLER"
)

type Signatory struct {
	Principal identity.Identity `json:"principal"`
	Signed    bool              `json:"signed"`
}

type Signatories struct {
	Buyer  Signatory `json:"buyer"`
	Seller Signatory `json:"seller"`
}

// Contract is the persisted escrow agreement. Payload is authored elsewhere
// and never interpreted here.
type Contract struct {
	ContractID    ContractID  `json:"contract_id"`
	Signatories   Signatories `json:"signatories"`
	Payload       string      `json:"payload"`
	CreatedAt     time.Time   `json:"created_at"`
	PaymentIssued bool        `json:"payment_issued"`
}

func NewContract(id ContractID, payload string, buyer, seller identity.Identity, createdAt time.Time) Contract {
	return Contract{
		ContractID: id,
		Signatories: Signatories{
			Buyer:  Signatory{Principal: buyer},
			Seller: Signatory{Principal: seller},
		},
		Payload:   payload,
		CreatedAt: createdAt,
	}
}

func (c Contract) IsSigned() bool {
	return c.Signatories.Buyer.Signed && c.Signatories.Seller.Signed
}

// SignerFor reports which party id signs for, if any.
func (c Contract) SignerFor(id identity.Identity) (Signer, bool) {
	switch id {
	case c.Signatories.Buyer.Principal:
		return SignerBuyer, true
	case c.Signatories.Seller.Principal:
		return SignerSeller, true
	default:
		return "", false
	}
}

func (c Contract) HasSigned(s Signer) bool {
	switch s {
	case SignerBuyer:
		return c.Signatories.Buyer.Signed
	case SignerSeller:
		return c.Signatories.Seller.Signed
	default:
		return false
	}
}

func (c *Contract) MarkSigned(s Signer) {
	switch s {
	case SignerBuyer:
		c.Signatories.Buyer.Signed = true
	case SignerSeller:
		c.Signatories.Seller.Signed = true
	}
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return "\"" + s + "\""
}
