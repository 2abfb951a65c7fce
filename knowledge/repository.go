package knowledge

import "context"

// Repository persists documents, chunks and data tables.
type Repository interface {
	CreateDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error
	ListDocuments(ctx context.Context, agentID uint) ([]Document, error)
	DeleteDocument(ctx context.Context, docID uint) error
	// ActiveChunks returns all chunks of the agent's active documents, with
	// the owning document filename resolved.
	ActiveChunks(ctx context.Context, agentID uint) ([]DocumentChunk, map[uint]string, error)

	CreateTable(ctx context.Context, table *DataTable, rows []DataRow) error
	ListTables(ctx context.Context, agentID uint) ([]DataTable, error)
	DeleteTable(ctx context.Context, tableID uint) error
	TableRows(ctx context.Context, tableID uint) ([]DataRow, error)
}
