package ledger

const (
	operationIngest = "ingest"
	operationSpend  = "spend"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	subjectEvent  = "event"
	subjectDebit  = "debit"
	subjectLot    = "lot"
	subjectAmount = "amount"

	codeUnsorted     = "unsorted"
	codeInvalid      = "invalid"
	codeShortfall    = "shortfall"
	codeEmptyLedger  = "empty_ledger"
	codeLotUnderflow = "lot_underflow"
	codeOverflow     = "overflow"
)
