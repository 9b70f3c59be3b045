package models

// All lists every persisted model in dependency order. Used for SQLite
// schema creation where the Postgres migrations do not apply.
func All() []any {
	return []any{
		&User{},
		&Book{},
		&Borrow{},
		&Reservation{},
		&Review{},
		&AuditLog{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
