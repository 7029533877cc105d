package repository

import (
	"context"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// DocumentRepo reads and deletes bb_document_application rows.  The files
// themselves live in the document store.
type DocumentRepo struct{}

// NewDocumentRepo returns a DocumentRepo.
func NewDocumentRepo() *DocumentRepo { return &DocumentRepo{} }

// ListForApplicationTx returns the documents attached to the application.
func (r *DocumentRepo) ListForApplicationTx(ctx context.Context, q DBTX, appID uint64) ([]model.Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, owner_id, name, category FROM bb_document_application WHERE owner_id = ? ORDER BY id`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Category); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteTx removes one document row.
func (r *DocumentRepo) DeleteTx(ctx context.Context, q DBTX, id uint64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM bb_document_application WHERE id = ?`, id)
	return err
}
