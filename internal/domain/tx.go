package domain

import "time"

// TxStatus is the on-chain state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
	TxStatusReplaced  TxStatus = "replaced"
)

// PendingTransaction tracks one submitted on-chain transaction. It is owned by
// the transaction submitter; a Trade references zero, one, or two of these
// (buy, sell) over its lifetime.
type PendingTransaction struct {
	Hash           string    `json:"hash"`
	Account        string    `json:"account"`
	Nonce          uint64    `json:"nonce"`
	GasLimit       uint64    `json:"gas_limit"`
	GasPriceWei    uint64    `json:"gas_price_wei"`
	PriorityFeeWei uint64    `json:"priority_fee_wei"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Status         TxStatus  `json:"status"`
	Confirmations  uint64    `json:"confirmations"`
}

// GasQuote is the gas advisor's recommendation for one transaction.
type GasQuote struct {
	GasLimit       uint64
	GasPriceWei    uint64
	PriorityFeeWei uint64
}

// MevLevel classifies the composite MEV exposure of a prospective trade.
type MevLevel string

const (
	MevLevelLow    MevLevel = "low"
	MevLevelMedium MevLevel = "medium"
	MevLevelHigh   MevLevel = "high"
)

// Mitigation is a directive the coordinator applies before pricing gas.
type Mitigation string

const (
	MitigationPrivateSubmission Mitigation = "private_submission"
	MitigationBundling          Mitigation = "bundling"
	MitigationTimingJitter      Mitigation = "timing_jitter"
	MitigationGasPremium        Mitigation = "gas_premium"
	MitigationTightenSlippage   Mitigation = "tighten_slippage"
)

// MevAssessment is the MEV advisor's verdict for a venue/pair/size combination.
type MevAssessment struct {
	Level       MevLevel
	Score       float64
	Mitigations []Mitigation
}

// Has reports whether the assessment includes the given mitigation.
func (a MevAssessment) Has(m Mitigation) bool {
	for _, x := range a.Mitigations {
		if x == m {
			return true
		}
	}
	return false
}
