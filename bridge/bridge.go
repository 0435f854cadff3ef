// Package bridge implements on-chain TBA deposit detection and the
// two-phase peer transfer, the two ways credit enters or moves across
// accounts without a direct mint_lot call from a trusted operator.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/types"
)

// DepositStatus is the TBA deposit's lifecycle state.
type DepositStatus string

const (
	DepositDetected  DepositStatus = "detected"
	DepositConfirmed DepositStatus = "confirmed"
	DepositBridged   DepositStatus = "bridged"
	DepositFailed    DepositStatus = "failed"
)

// Deposit is an on-chain deposit record bound to an agent account. TxHash
// is UNIQUE, which is what makes the confirm->bridge transition
// idempotent under the reconnaissance-duplicate-detection scenario.
type Deposit struct {
	ID        id.TBADepositID `json:"id"`
	AccountID id.AccountID    `json:"account_id"`
	TxHash    string          `json:"tx_hash"`
	Amount    types.MicroUSD  `json:"amount"`
	Status    DepositStatus   `json:"status"`
	LotID     *id.LotID       `json:"lot_id,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
}

// PaymentProof is the structural input the Verifier port checks.
type PaymentProof struct {
	Reference        string
	RecipientAddress string
	Payer            string
	ChainID          int64
	AmountMicro      types.MicroUSD
}

// VerifyResult reports whether a proof passed verification.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Verifier is the payment verifier port. The core only requires
// structural validation and recipient match; it never calls out to a
// chain RPC itself. Idempotency at this boundary is by Reference.
type Verifier interface {
	Verify(ctx context.Context, proof PaymentProof) (VerifyResult, error)
}

// MockVerifier validates structural correctness and recipient match,
// exactly as the spec describes, without any network dependency.
type MockVerifier struct {
	ExpectedRecipient string
}

func (v MockVerifier) Verify(_ context.Context, proof PaymentProof) (VerifyResult, error) {
	if proof.Reference == "" {
		return VerifyResult{Reason: "missing reference"}, nil
	}
	if proof.ChainID <= 0 {
		return VerifyResult{Reason: "invalid chain id"}, nil
	}
	if proof.AmountMicro <= 0 {
		return VerifyResult{Reason: "non-positive amount"}, nil
	}
	if v.ExpectedRecipient != "" && proof.RecipientAddress != v.ExpectedRecipient {
		return VerifyResult{Reason: "recipient mismatch"}, nil
	}
	return VerifyResult{Valid: true}, nil
}

// SignResult is the output of the signing port.
type SignResult struct {
	Signature string
	KeyVersion int
	SignedAt  time.Time
	DataHash  string
}

// Signer is the signing port. The core is agnostic to how keys are held;
// it requires deterministic, externally verifiable signatures with
// versioned key material.
type Signer interface {
	Sign(ctx context.Context, data []byte, keyName string) (SignResult, error)
	Verify(ctx context.Context, data []byte, result SignResult) (bool, error)
	RotateKey(ctx context.Context, keyName string) (int, error)
}

// PayoutRequest carries a deterministic idempotency key so retries never
// double-pay.
type PayoutRequest struct {
	IdempotencyKey string
	AccountID      id.AccountID
	Amount         types.MicroUSD
	Currency       string
}

// PayoutResult is the outcome of a create_payout call.
type PayoutResult struct {
	PayoutID string
	Status   string
}

// PayoutEstimate is the outcome of a get_estimate call.
type PayoutEstimate struct {
	FeeMicro       types.MicroUSD
	EstimatedTotal types.MicroUSD
}

// PayoutProvider is the payout port.
type PayoutProvider interface {
	CreatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (string, error)
	GetEstimate(ctx context.Context, amount types.MicroUSD, currency string) (PayoutEstimate, error)
}

// TxStore is the store slice the bridge service needs.
type TxStore interface {
	GetDepositByTxHash(ctx context.Context, txHash string) (*Deposit, error)
	GetDepositForUpdate(ctx context.Context, depositID id.TBADepositID) (*Deposit, error)
	InsertDeposit(ctx context.Context, d *Deposit) error
	UpdateDeposit(ctx context.Context, d *Deposit) error
	FindLotBySource(ctx context.Context, sourceType lot.SourceType, sourceID string) (*lot.Lot, error)
	MintLot(ctx context.Context, accountID id.AccountID, pool string, sourceType lot.SourceType, sourceID string, amount types.MicroUSD, expiresAt *time.Time) (*lot.Lot, error)
	InsertOutboxEvent(ctx context.Context, e *outbox.Event) error

	reservation.TxStore
}

// Service implements deposit detection, confirmation, bridging, and
// two-phase peer transfer.
type Service struct {
	engine *reservation.Engine
}

// New constructs a bridge Service using engine for the peer-transfer
// reserve/finalize legs.
func New(engine *reservation.Engine) *Service {
	return &Service{engine: engine}
}

// Detect records a newly observed on-chain deposit. Idempotent on
// TxHash: a repeat call for the same hash returns the existing row.
func (s *Service) Detect(ctx context.Context, tx TxStore, accountID id.AccountID, txHash string, amount types.MicroUSD) (*Deposit, error) {
	if existing, err := tx.GetDepositByTxHash(ctx, txHash); err == nil && existing != nil {
		return existing, nil
	}
	d := &Deposit{
		ID:         id.NewTBADepositID(),
		AccountID:  accountID,
		TxHash:     txHash,
		Amount:     amount,
		Status:     DepositDetected,
		DetectedAt: time.Now().UTC(),
	}
	if err := tx.InsertDeposit(ctx, d); err != nil {
		return nil, err
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventTbaDepositDetected, "tba_deposit", d.ID.String(), d)); err != nil {
		return nil, err
	}
	return d, nil
}

// Confirm moves a detected deposit to confirmed, once off-chain
// confirmation depth is satisfied. That check is the caller's
// responsibility; Confirm only performs the state transition.
func (s *Service) Confirm(ctx context.Context, tx TxStore, depositID id.TBADepositID) (*Deposit, error) {
	d, err := tx.GetDepositForUpdate(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if d.Status != DepositDetected {
		return nil, fmt.Errorf("bridge: deposit %s is not detected: %w", depositID, ledgererr.ErrInvalidState)
	}
	d.Status = DepositConfirmed
	if err := tx.UpdateDeposit(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Bridge mints the deposit's lot and marks it bridged. If the mint
// collides on (source_type, source_id) — i.e. a concurrent bridge
// attempt already minted the lot — it converges onto the pre-existing
// lot rather than failing.
func (s *Service) Bridge(ctx context.Context, tx TxStore, depositID id.TBADepositID) (*Deposit, error) {
	d, err := tx.GetDepositForUpdate(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if d.Status != DepositConfirmed {
		return nil, fmt.Errorf("bridge: deposit %s is not confirmed: %w", depositID, ledgererr.ErrTBADepositNotConfirmed)
	}

	sourceID := d.TxHash
	l, err := tx.FindLotBySource(ctx, lot.SourceDeposit, sourceID)
	if err != nil || l == nil {
		l, err = tx.MintLot(ctx, d.AccountID, lot.GeneralPool, lot.SourceDeposit, sourceID, d.Amount, nil)
		if err != nil {
			return nil, err
		}
	}

	d.LotID = &l.ID
	d.Status = DepositBridged
	if err := tx.UpdateDeposit(ctx, d); err != nil {
		return nil, err
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventTbaDepositBridged, "tba_deposit", d.ID.String(), d)); err != nil {
		return nil, err
	}
	return d, nil
}

// Fail marks a deposit terminally failed (e.g. verification rejected it).
func (s *Service) Fail(ctx context.Context, tx TxStore, depositID id.TBADepositID, reason string) (*Deposit, error) {
	d, err := tx.GetDepositForUpdate(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if d.Status == DepositBridged || d.Status == DepositFailed {
		return nil, fmt.Errorf("bridge: deposit %s already terminal: %w", depositID, ledgererr.ErrTerminalStateViolation)
	}
	d.Status = DepositFailed
	if err := tx.UpdateDeposit(ctx, d); err != nil {
		return nil, err
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventTbaDepositFailed, "tba_deposit", d.ID.String(), reason)); err != nil {
		return nil, err
	}
	return d, nil
}

// PeerTransfer debits the sender via a reservation, finalizes it at the
// full amount, and mints a transfer_in lot at the receiver, all within
// the caller's open transaction and tagged with one correlation id so a
// reconciler sees exact balance movement across both accounts.
func (s *Service) PeerTransfer(ctx context.Context, tx TxStore, senderID, receiverID id.AccountID, amount types.MicroUSD, pool string) (string, error) {
	correlationID := id.NewPeerTransferID().String()

	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventPeerTransferInitiated, "peer_transfer", correlationID, map[string]any{
		"sender": senderID, "receiver": receiverID, "amount": amount,
	}).WithCorrelation(correlationID)); err != nil {
		return "", err
	}

	resv, err := s.engine.Reserve(ctx, tx, senderID, amount, reservation.Options{Pool: pool, BillingMode: reservation.ModeLive})
	if err != nil {
		_ = tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventPeerTransferRejected, "peer_transfer", correlationID, err.Error()).WithCorrelation(correlationID))
		return "", err
	}
	if _, err := s.engine.Finalize(ctx, tx, resv.ID, amount); err != nil {
		return "", err
	}

	if _, err := tx.MintLot(ctx, receiverID, pool, lot.SourceTransferIn, correlationID, amount, nil); err != nil {
		return "", err
	}

	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventPeerTransferCompleted, "peer_transfer", correlationID, map[string]any{
		"sender": senderID, "receiver": receiverID, "amount": amount,
	}).WithCorrelation(correlationID)); err != nil {
		return "", err
	}

	return correlationID, nil
}
