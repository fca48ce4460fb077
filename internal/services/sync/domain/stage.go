package domain

// Stage is a pipeline state. Failures record the stage the message was
// moving into.
type Stage string

const (
	StageReceived   Stage = "received"
	StageDecoded    Stage = "decoded"
	StageDecrypted  Stage = "decrypted"
	StageReconciled Stage = "reconciled"
	StageAssociated Stage = "associated"
	StageForwarded  Stage = "forwarded"
)

// Outcome is the terminal decision reported to the queue for one delivery.
type Outcome string

const (
	// OutcomeAcked means the pipeline completed.
	OutcomeAcked Outcome = "acked"
	// OutcomeIgnored means the message was acked without processing.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRetry means the message should be redelivered unchanged. It is
	// not terminal: the next delivery re-enters at StageReceived.
	OutcomeRetry Outcome = "retry_scheduled"
	// OutcomeRejected means the message leaves normal flow and is surfaced
	// for manual inspection.
	OutcomeRejected Outcome = "rejected"
)

// Ack reports whether the transport should acknowledge the delivery.
func (o Outcome) Ack() bool {
	return o == OutcomeAcked || o == OutcomeIgnored
}

// Classify maps a pipeline error to the delivery outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeAcked
	}
	switch KindOf(err) {
	case KindParse:
		return OutcomeIgnored
	case KindDecryption, KindValidation, KindLogic:
		return OutcomeRejected
	default:
		return OutcomeRetry
	}
}

// Result is the value handed back to the queue consumer for one delivery.
type Result struct {
	Outcome Outcome
	// Stage is the last stage reached, or the stage that failed.
	Stage        Stage
	Schema       string
	ActionID     int64
	CampaignID   string
	IdentityID   string
	MembershipID string
	Body         []byte
	Err          error
}

// OK reports whether the delivery should be acknowledged.
func (r Result) OK() bool {
	return r.Outcome.Ack()
}
