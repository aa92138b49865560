package domain

const (
	TxTypeMerchantPayment = "MERCHANT_PAYMENT"
	TxTypeP2PTransfer     = "P2P_TRANSFER"

	// Outbox statuses
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"

	AggregateTransaction   = "TRANSACTION"
	AggregateFraudDecision = "FRAUD_DECISION"

	EventTransactionReceived = "TransactionReceived"
	EventFraudFinalDecision  = "FraudFinalDecision"

	// Final decisions
	DecisionAllow = "ALLOW"
	DecisionHold  = "HOLD"
	DecisionBlock = "BLOCK"

	BandSafe = "SAFE"
	BandGray = "GRAY"
	BandRisk = "RISK"

	ReasonBlacklist = "BLACKLIST"
	ReasonRuleSafe  = "RULE_SAFE"
	ReasonRuleRisk  = "RULE_RISK"
	ReasonMLSafe    = "ML_SAFE"
	ReasonMLRisk    = "ML_RISK"
	ReasonMLGray    = "ML_GRAY"

	// Transfer statuses
	TransferStatusProcessing      = "PROCESSING"
	TransferStatusApplied         = "APPLIED"
	TransferStatusFailedRetryable = "FAILED_RETRYABLE"

	TopicTransactionsRaw = "transactions.raw"
	TopicBlacklist       = "fraud.blacklist"
	TopicRules           = "fraud.rules"
	TopicML              = "fraud.ml"
	TopicFinal           = "fraud.final"

	// DeadLetterSuffix is appended to a topic name to form its dead-letter topic.
	DeadLetterSuffix = ".DLT"

	// MaxErrorLength bounds error text persisted on durable rows.
	MaxErrorLength = 500
)

// ML score thresholds. Scores strictly below MLSafeThreshold are safe and
// strictly above MLRiskThreshold are risky.
const (
	MLSafeThreshold = 0.30
	MLRiskThreshold = 0.70
)

// TruncateError clips error text to MaxErrorLength runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return string(r[:MaxErrorLength])
}
