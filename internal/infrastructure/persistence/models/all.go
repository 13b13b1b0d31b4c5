package models

// All returns every model owned by the engine, in creation order
func All() []any {
	return []any{
		&ExternalRecordModel{},
		&SyncCursorModel{},
		&SyncRunModel{},
		&RecordErrorModel{},
		&ApiTokenModel{},
		&CanonicalEntityModel{},
		&TransactionModel{},
		&LedgerEntryModel{},
		&PostingModel{},
	}
}
