package knowledge

import "time"

// EmbeddingDim is the vector size of text-embedding-3-small.
const EmbeddingDim = 1536

// Document is an uploaded knowledge file, stored as searchable chunks.
type Document struct {
	ID         uint
	AgentID    uint
	Filename   string
	FileType   string
	FileSize   int64
	IsActive   bool
	ChunkCount int
	CreatedAt  time.Time
}

// DocumentChunk is one slice of a document with its embedding.
type DocumentChunk struct {
	ID         uint
	DocumentID uint
	Content    string
	ChunkIndex int
	Embedding  []float64
}

// DataTable is a structured dataset (products, price lists) imported from CSV.
type DataTable struct {
	ID          uint
	AgentID     uint
	Name        string
	Description string
	Columns     map[string]string // column name -> text|number|boolean|date
	RowCount    int
	IsActive    bool
	CreatedAt   time.Time
}

// DataRow is one record in a data table.
type DataRow struct {
	ID        uint
	TableID   uint
	Data      map[string]any
	Embedding []float64
}

// ChunkResult is a knowledge search hit.
type ChunkResult struct {
	Document   string
	Content    string
	ChunkIndex int
}
