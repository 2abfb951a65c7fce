package knowledge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wapilot/wapilot/pkg/apperr"
	"gorm.io/gorm"
)

type documentModel struct {
	ID         uint   `gorm:"primaryKey"`
	AgentID    uint   `gorm:"column:agent_id;index"`
	Filename   string `gorm:"size:255"`
	FileType   string `gorm:"column:file_type;size:20"`
	FileSize   int64  `gorm:"column:file_size"`
	IsActive   bool   `gorm:"column:is_active;not null;default:true"`
	ChunkCount int    `gorm:"column:chunk_count"`
	CreatedAt  time.Time
}

func (documentModel) TableName() string { return "documents" }

type documentChunkModel struct {
	ID         uint   `gorm:"primaryKey"`
	DocumentID uint   `gorm:"column:document_id;index"`
	Content    string `gorm:"type:text"`
	ChunkIndex int    `gorm:"column:chunk_index"`
	Embedding  string `gorm:"type:text"`
}

func (documentChunkModel) TableName() string { return "document_chunks" }

type dataTableModel struct {
	ID          uint   `gorm:"primaryKey"`
	AgentID     uint   `gorm:"column:agent_id;index"`
	Name        string `gorm:"size:255"`
	Description string `gorm:"type:text"`
	Columns     string `gorm:"type:text"`
	RowCount    int    `gorm:"column:row_count"`
	IsActive    bool   `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time
}

func (dataTableModel) TableName() string { return "data_tables" }

type dataRowModel struct {
	ID        uint   `gorm:"primaryKey"`
	TableID   uint   `gorm:"column:table_id;index"`
	Data      string `gorm:"type:text"`
	Embedding string `gorm:"type:text"`
}

func (dataRowModel) TableName() string { return "data_rows" }

// GormRepository implements Repository using GORM. Embeddings are stored as
// JSON arrays so the same schema works on postgres and sqlite; ranking
// happens in the service layer.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&documentModel{}, &documentChunkModel{}, &dataTableModel{}, &dataRowModel{},
	)
}

func (r *GormRepository) CreateDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := documentModel{
			AgentID:    doc.AgentID,
			Filename:   doc.Filename,
			FileType:   doc.FileType,
			FileSize:   doc.FileSize,
			IsActive:   true,
			ChunkCount: len(chunks),
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for i := range chunks {
			cm := documentChunkModel{
				DocumentID: model.ID,
				Content:    chunks[i].Content,
				ChunkIndex: chunks[i].ChunkIndex,
				Embedding:  marshalVector(chunks[i].Embedding),
			}
			if err := tx.Create(&cm).Error; err != nil {
				return err
			}
		}
		doc.ID = model.ID
		doc.ChunkCount = len(chunks)
		doc.CreatedAt = model.CreatedAt
		return nil
	})
}

func (r *GormRepository) ListDocuments(ctx context.Context, agentID uint) ([]Document, error) {
	var models []documentModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND is_active = ?", agentID, true).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(models))
	for i, m := range models {
		docs[i] = Document{
			ID: m.ID, AgentID: m.AgentID, Filename: m.Filename, FileType: m.FileType,
			FileSize: m.FileSize, IsActive: m.IsActive, ChunkCount: m.ChunkCount, CreatedAt: m.CreatedAt,
		}
	}
	return docs, nil
}

func (r *GormRepository) DeleteDocument(ctx context.Context, docID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&documentModel{}, "id = ?", docID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFoundError("document not found")
		}
		return tx.Delete(&documentChunkModel{}, "document_id = ?", docID).Error
	})
}

func (r *GormRepository) ActiveChunks(ctx context.Context, agentID uint) ([]DocumentChunk, map[uint]string, error) {
	var docs []documentModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND is_active = ?", agentID, true).
		Find(&docs).Error
	if err != nil {
		return nil, nil, err
	}
	if len(docs) == 0 {
		return nil, nil, nil
	}

	names := make(map[uint]string, len(docs))
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		names[d.ID] = d.Filename
		ids = append(ids, d.ID)
	}

	var models []documentChunkModel
	if err := r.db.WithContext(ctx).Where("document_id IN ?", ids).Find(&models).Error; err != nil {
		return nil, nil, err
	}
	chunks := make([]DocumentChunk, len(models))
	for i, m := range models {
		chunks[i] = DocumentChunk{
			ID:         m.ID,
			DocumentID: m.DocumentID,
			Content:    m.Content,
			ChunkIndex: m.ChunkIndex,
			Embedding:  unmarshalVector(m.Embedding),
		}
	}
	return chunks, names, nil
}

func (r *GormRepository) CreateTable(ctx context.Context, table *DataTable, rows []DataRow) error {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := dataTableModel{
			AgentID:     table.AgentID,
			Name:        table.Name,
			Description: table.Description,
			Columns:     string(columns),
			RowCount:    len(rows),
			IsActive:    true,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for i := range rows {
			data, err := json.Marshal(rows[i].Data)
			if err != nil {
				return err
			}
			rm := dataRowModel{
				TableID:   model.ID,
				Data:      string(data),
				Embedding: marshalVector(rows[i].Embedding),
			}
			if err := tx.Create(&rm).Error; err != nil {
				return err
			}
		}
		table.ID = model.ID
		table.RowCount = len(rows)
		table.CreatedAt = model.CreatedAt
		return nil
	})
}

func (r *GormRepository) ListTables(ctx context.Context, agentID uint) ([]DataTable, error) {
	var models []dataTableModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND is_active = ?", agentID, true).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	tables := make([]DataTable, len(models))
	for i, m := range models {
		t := DataTable{
			ID: m.ID, AgentID: m.AgentID, Name: m.Name, Description: m.Description,
			RowCount: m.RowCount, IsActive: m.IsActive, CreatedAt: m.CreatedAt,
		}
		if m.Columns != "" {
			_ = json.Unmarshal([]byte(m.Columns), &t.Columns)
		}
		tables[i] = t
	}
	return tables, nil
}

func (r *GormRepository) DeleteTable(ctx context.Context, tableID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&dataTableModel{}, "id = ?", tableID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFoundError("table not found")
		}
		return tx.Delete(&dataRowModel{}, "table_id = ?", tableID).Error
	})
}

func (r *GormRepository) TableRows(ctx context.Context, tableID uint) ([]DataRow, error) {
	var models []dataRowModel
	if err := r.db.WithContext(ctx).Where("table_id = ?", tableID).Find(&models).Error; err != nil {
		return nil, err
	}
	rows := make([]DataRow, len(models))
	for i, m := range models {
		row := DataRow{ID: m.ID, TableID: m.TableID, Embedding: unmarshalVector(m.Embedding)}
		if m.Data != "" {
			_ = json.Unmarshal([]byte(m.Data), &row.Data)
		}
		rows[i] = row
	}
	return rows, nil
}

func marshalVector(v []float64) string {
	if len(v) == 0 {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func unmarshalVector(s string) []float64 {
	if s == "" {
		return nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}
