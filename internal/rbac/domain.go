package rbac

import "time"

// Permission names used by the document and master-data routes.
const (
	PermDocsView    = "docs.view"
	PermDocsCreate  = "docs.create"
	PermDocsApprove = "docs.approve"
	PermDocsEdit    = "docs.edit"
	PermDocsDelete  = "docs.delete"

	// Editing a document that has already been approved requires an
	// elevated, per-document-type permission on top of docs.edit.
	PermReceiptEditApproved  = "docs.receipt.edit_approved"
	PermIssueEditApproved    = "docs.issue.edit_approved"
	PermTransferEditApproved = "docs.transfer.edit_approved"

	PermMasterdataView  = "masterdata.view"
	PermPermissionsView = "permissions.view"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}
