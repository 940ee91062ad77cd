package docflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stocklot/stocklot/internal/auth"
	"github.com/stocklot/stocklot/internal/shared"
)

// AuthzPort answers yes/no permission checks.
type AuthzPort interface {
	HasPermission(ctx context.Context, userID int64, perm string) (bool, error)
}

// ActivityPort records user-visible activity, best-effort.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// Service is the generic workflow engine. Each use case runs in one
// transaction spanning the document, its lines and every ledger row it
// touches; the per-type ledger effects come from the typeRules table.
type Service struct {
	repo        RepositoryPort
	authz       AuthzPort
	activity    ActivityPort
	logger      *slog.Logger
	integration IntegrationHandler
	rules       map[DocType]typeRules
	now         func() time.Time
}

// NewService builds Service. integration may be nil.
func NewService(repo RepositoryPort, authz AuthzPort, activity ActivityPort, logger *slog.Logger, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		authz:       authz,
		activity:    activity,
		logger:      logger,
		integration: integration,
		rules: map[DocType]typeRules{
			DocTypeReceipt:  receiptRules{},
			DocTypeIssue:    issueRules{},
			DocTypeTransfer: transferRules{},
		},
		now: time.Now,
	}
}

func (s *Service) rulesFor(docType DocType) (typeRules, error) {
	r, ok := s.rules[docType]
	if !ok {
		return nil, fmt.Errorf("docflow: unknown document type %q: %w", docType, shared.ErrValidation)
	}
	return r, nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return fmt.Errorf("docflow: document requires at least one line: %w", shared.ErrValidation)
	}
	for _, line := range lines {
		if line.ProductID <= 0 {
			return fmt.Errorf("docflow: line requires a product: %w", shared.ErrValidation)
		}
		if line.Qty <= 0 {
			return fmt.Errorf("docflow: line quantity must be positive: %w", shared.ErrValidation)
		}
		if line.UnitPrice < 0 {
			return fmt.Errorf("docflow: line unit price must not be negative: %w", shared.ErrValidation)
		}
	}
	return nil
}

func totalValue(lines []LineInput) float64 {
	var total float64
	for _, line := range lines {
		total += line.UnitPrice * float64(line.Qty)
	}
	return total
}

// Create inserts a Pending document with its lines.
func (s *Service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (Document, []Line, error) {
	rules, err := s.rulesFor(input.Type)
	if err != nil {
		return Document{}, nil, err
	}
	if err := validateLines(input.Lines); err != nil {
		return Document{}, nil, err
	}

	doc := Document{
		Type:            input.Type,
		WarehouseID:     input.WarehouseID,
		DestWarehouseID: input.DestWarehouseID,
		CounterpartyID:  input.CounterpartyID,
		CreatedBy:       actor.ID,
		CreatedAt:       s.now(),
		Note:            input.Note,
		Status:          StatusPending,
		TotalValue:      totalValue(input.Lines),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := rules.validateCreate(ctx, tx, doc, input.Lines); err != nil {
			return err
		}
		id, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = id
		for _, in := range input.Lines {
			line := Line{
				DocumentID: id,
				ProductID:  in.ProductID,
				Qty:        in.Qty,
				UnitPrice:  in.UnitPrice,
				LineTotal:  in.UnitPrice * float64(in.Qty),
				Resolution: in.Resolution(),
			}
			if _, err := tx.InsertLine(ctx, doc.Type, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, nil, err
	}

	s.recordActivity(ctx, actor, "created %s #%d", doc.Type, doc.ID)
	return s.repo.GetDocument(ctx, doc.Type, doc.ID)
}

// Get fetches a document with its lines.
func (s *Service) Get(ctx context.Context, docType DocType, id int64) (Document, []Line, error) {
	if _, err := s.rulesFor(docType); err != nil {
		return Document{}, nil, err
	}
	return s.repo.GetDocument(ctx, docType, id)
}

// List returns documents of one type, newest first.
func (s *Service) List(ctx context.Context, docType DocType, filter ListFilter) ([]Document, error) {
	if _, err := s.rulesFor(docType); err != nil {
		return nil, err
	}
	return s.repo.ListDocuments(ctx, docType, filter)
}

// Approve posts a Pending document's ledger effect and marks it Approved.
// Unresolved lines are FEFO-allocated and replaced by the resolved lines.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, docType DocType, id int64) (Document, []Line, error) {
	rules, err := s.rulesFor(docType)
	if err != nil {
		return Document{}, nil, err
	}
	today := s.now()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, lines, err := tx.GetDocumentForUpdate(ctx, docType, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusPending {
			return fmt.Errorf("docflow: cannot approve %s document: %w", strings.ToLower(string(doc.Status)), shared.ErrConflict)
		}
		for _, line := range lines {
			replacement, err := rules.applyLine(ctx, tx, doc, line, today)
			if err != nil {
				return err
			}
			if replacement == nil {
				continue
			}
			if err := tx.DeleteLine(ctx, docType, line.ID); err != nil {
				return err
			}
			for _, resolved := range replacement {
				if _, err := tx.InsertLine(ctx, docType, resolved); err != nil {
					return err
				}
			}
		}
		return tx.SetDocumentStatus(ctx, docType, id, StatusApproved, actor.ID)
	})
	if err != nil {
		return Document{}, nil, err
	}

	s.recordActivity(ctx, actor, "approved %s #%d", docType, id)
	s.publishApproved(ctx, ApprovedEvent{DocType: docType, DocumentID: id, ActorID: actor.ID, OccurredAt: today})
	return s.repo.GetDocument(ctx, docType, id)
}

// Cancel marks a document Cancelled. Only transfers may be cancelled
// after approval; their resolved lines are reversed first.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, docType DocType, id int64) error {
	rules, err := s.rulesFor(docType)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, lines, err := tx.GetDocumentForUpdate(ctx, docType, id)
		if err != nil {
			return err
		}
		switch doc.Status {
		case StatusCancelled:
			return fmt.Errorf("docflow: document already cancelled: %w", shared.ErrConflict)
		case StatusApproved:
			if !rules.cancellableFromApproved() {
				return fmt.Errorf("docflow: approved %s cannot be cancelled, edit or delete it instead: %w", strings.ToLower(string(docType)), shared.ErrConflict)
			}
			for _, line := range lines {
				if !line.Resolution.Resolved() {
					continue
				}
				if err := rules.reverseLine(ctx, tx, doc, line); err != nil {
					return err
				}
			}
		}
		return tx.SetDocumentStatus(ctx, docType, id, StatusCancelled, actor.ID)
	})
	if err != nil {
		return err
	}

	s.recordActivity(ctx, actor, "cancelled %s #%d", docType, id)
	return nil
}

// Update replaces a document's header fields and lines. An Approved
// document keeps its status: the old ledger effect is rolled back and the
// new lines are posted in the same transaction, which requires the
// elevated per-type permission and explicit lots on every new line.
func (s *Service) Update(ctx context.Context, actor auth.Actor, docType DocType, id int64, input UpdateInput) error {
	rules, err := s.rulesFor(docType)
	if err != nil {
		return err
	}
	if err := validateLines(input.Lines); err != nil {
		return err
	}
	now := s.now()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, lines, err := tx.GetDocumentForUpdate(ctx, docType, id)
		if err != nil {
			return err
		}
		if doc.Status == StatusCancelled {
			return fmt.Errorf("docflow: cancelled document cannot be edited: %w", shared.ErrConflict)
		}
		if now.Sub(doc.CreatedAt) >= editWindow {
			return fmt.Errorf("docflow: document is past the %d-day edit window: %w", int(editWindow.Hours()/24), shared.ErrForbidden)
		}
		if doc.Status == StatusApproved {
			allowed, err := s.authz.HasPermission(ctx, actor.ID, rules.editApprovedPermission())
			if err != nil {
				return err
			}
			if !allowed {
				return fmt.Errorf("docflow: editing an approved %s requires %s: %w", strings.ToLower(string(docType)), rules.editApprovedPermission(), shared.ErrForbidden)
			}
			for _, in := range input.Lines {
				if in.LotCode == "" {
					return fmt.Errorf("docflow: editing an approved document requires an explicit lot on every line: %w", shared.ErrValidation)
				}
			}
			// Roll the old effect back before touching anything else so
			// the reapply below sees post-rollback quantities.
			for _, line := range lines {
				if !line.Resolution.Resolved() {
					continue
				}
				if err := rules.reverseLine(ctx, tx, doc, line); err != nil {
					return err
				}
			}
		}

		updated := doc
		updated.WarehouseID = input.WarehouseID
		updated.DestWarehouseID = input.DestWarehouseID
		updated.CounterpartyID = input.CounterpartyID
		updated.Note = input.Note
		updated.TotalValue = totalValue(input.Lines)
		if err := rules.validateCreate(ctx, tx, updated, input.Lines); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, docType, id); err != nil {
			return err
		}
		if err := tx.UpdateDocumentHeader(ctx, updated); err != nil {
			return err
		}
		for _, in := range input.Lines {
			line := Line{
				DocumentID: id,
				ProductID:  in.ProductID,
				Qty:        in.Qty,
				UnitPrice:  in.UnitPrice,
				LineTotal:  in.UnitPrice * float64(in.Qty),
				Resolution: in.Resolution(),
			}
			lineID, err := tx.InsertLine(ctx, docType, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			if doc.Status == StatusApproved {
				if err := rules.reapplyLine(ctx, tx, updated, line, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recordActivity(ctx, actor, "updated %s #%d", docType, id)
	return nil
}

// Delete removes a document entirely. An Approved document's ledger
// effect is reversed line by line first.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, docType DocType, id int64) error {
	rules, err := s.rulesFor(docType)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, lines, err := tx.GetDocumentForUpdate(ctx, docType, id)
		if err != nil {
			return err
		}
		if doc.Status == StatusApproved {
			for _, line := range lines {
				if !line.Resolution.Resolved() {
					continue
				}
				if err := rules.reverseLine(ctx, tx, doc, line); err != nil {
					return err
				}
			}
		}
		if err := tx.DeleteLines(ctx, docType, id); err != nil {
			return err
		}
		return tx.DeleteDocument(ctx, docType, id)
	})
	if err != nil {
		return err
	}

	s.recordActivity(ctx, actor, "deleted %s #%d", docType, id)
	return nil
}

func (s *Service) recordActivity(ctx context.Context, actor auth.Actor, format string, docType DocType, id int64) {
	if s.activity == nil {
		return
	}
	description := fmt.Sprintf(format, strings.ToLower(string(docType)), id)
	if err := s.activity.Record(ctx, shared.ActivityLog{UserID: actor.ID, Description: description, At: s.now()}); err != nil && s.logger != nil {
		s.logger.Warn("record activity", slog.Any("error", err))
	}
}

func (s *Service) publishApproved(ctx context.Context, evt ApprovedEvent) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleApproved(ctx, evt); err != nil && s.logger != nil {
		s.logger.Warn("publish approved event", slog.Any("error", err))
	}
}
