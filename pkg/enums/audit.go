package enums

// AuditAction names the operation recorded in audit_logs.action.
type AuditAction string

const (
	AuditActionMarkOverdue  AuditAction = "mark_overdue"
	AuditActionCreateBook   AuditAction = "create_book"
	AuditActionUpdateBook   AuditAction = "update_book"
	AuditActionSoftDelete   AuditAction = "soft_delete"
	AuditActionImportBooks  AuditAction = "import_books"
	AuditActionCancelHold   AuditAction = "cancel_reservation"
	AuditActionManualReturn AuditAction = "staff_return"
	AuditActionCreateReview AuditAction = "create_review"
)

// AuditEntity names the entity type recorded in audit_logs.entity.
type AuditEntity string

const (
	AuditEntityBorrow      AuditEntity = "Borrow"
	AuditEntityBook        AuditEntity = "Book"
	AuditEntityReservation AuditEntity = "Reservation"
	AuditEntityReview      AuditEntity = "Review"
)
