package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
)

// StellarClientInterface settles lease obligations on the Stellar network.
type StellarClientInterface interface {
	ValidateAccount(accountID string) error
	BuildPaymentEnvelope(source string, amount decimal.Decimal, memo string) (string, error)
	VerifyPayment(txHash string, amount decimal.Decimal, memo string) error
}

// StellarAsset is the asset obligations are paid in. An empty code means XLM.
type StellarAsset struct {
	Code   string
	Issuer string
}

func (a StellarAsset) native() bool {
	return a.Code == "" || a.Code == "XLM"
}

func (a StellarAsset) txnAsset() txnbuild.Asset {
	if a.native() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

type StellarClient struct {
	client            horizonclient.ClientInterface
	networkPassphrase string
	receivingAccount  string
	asset             StellarAsset
}

func NewStellarClient(horizonURL, networkPassphrase, receivingAccount string, asset StellarAsset) *StellarClient {
	return newStellarClient(&horizonclient.Client{HorizonURL: horizonURL}, networkPassphrase, receivingAccount, asset)
}

func newStellarClient(client horizonclient.ClientInterface, networkPassphrase, receivingAccount string, asset StellarAsset) *StellarClient {
	return &StellarClient{
		client:            client,
		networkPassphrase: networkPassphrase,
		receivingAccount:  receivingAccount,
		asset:             asset,
	}
}

// PaymentMemo is the text memo tying an on-chain payment to one obligation.
// It stays within the 28 byte memo limit for any realistic agreement id.
func PaymentMemo(agreementID uint, kind string) string {
	short := "SD"
	if kind == "advance_payment" {
		short = "AP"
	}
	return fmt.Sprintf("LEASE-%d-%s", agreementID, short)
}

func (s *StellarClient) ValidateAccount(accountID string) error {
	_, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		return fmt.Errorf("invalid or non-existent account: %w", err)
	}
	return nil
}

// BuildPaymentEnvelope returns an unsigned payment from source to the
// receiving account for the tenant's wallet to sign and submit.
func (s *StellarClient) BuildPaymentEnvelope(source string, amount decimal.Decimal, memo string) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("payment amount %s: %w", FormatMoney(amount), ErrInvalidInput)
	}
	sourceAccount, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: source})
	if err != nil {
		return "", fmt.Errorf("failed to load source account: %v: %w", err, ErrInvalidInput)
	}

	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount:        &sourceAccount,
			IncrementSequenceNum: true,
			BaseFee:              txnbuild.MinBaseFee,
			Memo:                 txnbuild.MemoText(memo),
			Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(900)},
			Operations: []txnbuild.Operation{
				&txnbuild.Payment{
					Destination: s.receivingAccount,
					Amount:      FormatMoney(amount),
					Asset:       s.asset.txnAsset(),
				},
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to build payment transaction: %w", err)
	}

	xdr, err := tx.Base64()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction to XDR: %w", err)
	}
	return xdr, nil
}

// VerifyPayment checks that txHash is a successful transaction carrying memo
// with a payment of amount to the receiving account.
func (s *StellarClient) VerifyPayment(txHash string, amount decimal.Decimal, memo string) error {
	if txHash == "" {
		return fmt.Errorf("transaction hash is required: %w", ErrInvalidInput)
	}
	tx, err := s.client.TransactionDetail(txHash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return fmt.Errorf("transaction %s: %w", txHash, ErrNotFound)
		}
		return fmt.Errorf("load transaction %s: %v: %w", txHash, err, ErrGatewayFailure)
	}
	if !tx.Successful {
		return fmt.Errorf("transaction %s failed on chain: %w", txHash, ErrInvalidInput)
	}
	if err := s.onNetwork(tx); err != nil {
		return err
	}
	if tx.Memo != memo {
		return fmt.Errorf("transaction %s memo %q, want %q: %w", txHash, tx.Memo, memo, ErrInvalidInput)
	}

	page, err := s.client.Operations(horizonclient.OperationRequest{ForTransaction: txHash})
	if err != nil {
		return fmt.Errorf("load operations of %s: %v: %w", txHash, err, ErrGatewayFailure)
	}
	for _, record := range page.Embedded.Records {
		payment, ok := record.(operations.Payment)
		if !ok || !s.pays(payment, amount) {
			continue
		}
		return nil
	}
	return fmt.Errorf("transaction %s has no payment of %s to %s: %w",
		txHash, FormatMoney(amount), s.receivingAccount, ErrInvalidInput)
}

// onNetwork checks that the envelope Horizon returned hashes to the
// transaction hash under the configured network passphrase.
func (s *StellarClient) onNetwork(tx hProtocol.Transaction) error {
	generic, err := txnbuild.TransactionFromXDR(tx.EnvelopeXdr)
	if err != nil {
		return fmt.Errorf("decode envelope of %s: %v: %w", tx.Hash, err, ErrInvalidInput)
	}
	var hash string
	if inner, ok := generic.Transaction(); ok {
		hash, err = inner.HashHex(s.networkPassphrase)
	} else if bump, ok := generic.FeeBump(); ok {
		hash, err = bump.HashHex(s.networkPassphrase)
	}
	if err != nil || hash != tx.Hash {
		return fmt.Errorf("transaction %s was not signed for network %q: %w", tx.Hash, s.networkPassphrase, ErrInvalidInput)
	}
	return nil
}

func (s *StellarClient) pays(p operations.Payment, amount decimal.Decimal) bool {
	if p.To != s.receivingAccount {
		return false
	}
	if s.asset.native() {
		if p.Asset.Type != "native" {
			return false
		}
	} else if p.Asset.Code != s.asset.Code || p.Asset.Issuer != s.asset.Issuer {
		return false
	}
	paid, err := decimal.NewFromString(p.Amount)
	return err == nil && SameAmount(paid, amount)
}
