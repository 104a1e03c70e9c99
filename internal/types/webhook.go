package types

// WebhookEvent is the status update posted by the payment processor.
type WebhookEvent struct {
	ExternalEntryID     string `json:"externalEntryId" validate:"required"`
	TerminalSignal      string `json:"terminalSignal"`
	SettlementReference string `json:"settlementReference,omitempty"`
}

// TransactionRequest registers a transaction created by the bot so the core
// can reconcile it and schedule its jobs.
type TransactionRequest struct {
	OwnerID              int64  `json:"ownerId" validate:"required"`
	RequestedAmount      string `json:"requestedAmount" validate:"required,numeric"`
	ExpectedPayoutAmount string `json:"expectedPayoutAmount" validate:"required,numeric"`
	ExternalEntryID      string `json:"externalEntryId" validate:"required"`
	QRMessageID          *int64 `json:"qrMessageId,omitempty"`
}
