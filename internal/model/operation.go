package model

// Operation is one of the four CRUD operations a scope grant can permit.
// The operations table is seeded with exactly these four values; they are
// reference data, not user-editable content.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists all four CRUD operations in a stable order.
func Operations() []Operation {
	return []Operation{OpCreate, OpRead, OpUpdate, OpDelete}
}

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, bool) {
	switch Operation(s) {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return Operation(s), true
	}
	return "", false
}

// OperationForMethod maps an HTTP method to the CRUD operation it implies.
// This mapping is part of the external contract: read-only methods map to
// read, POST to create, PUT and PATCH to update, DELETE to delete.
func OperationForMethod(method string) (Operation, bool) {
	switch method {
	case "GET", "HEAD", "OPTIONS":
		return OpRead, true
	case "POST":
		return OpCreate, true
	case "PUT", "PATCH":
		return OpUpdate, true
	case "DELETE":
		return OpDelete, true
	}
	return "", false
}
