package knowledge

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Service is the knowledge base facade: document chunking, CSV import and
// semantic search over both.
type Service struct {
	repo     Repository
	embedder Embedder
}

func NewService(repo Repository, embedder Embedder) *Service {
	return &Service{repo: repo, embedder: embedder}
}

// UploadDocument chunks pre-extracted text, embeds the chunks and stores the
// document.
func (s *Service) UploadDocument(ctx context.Context, agentID uint, filename, fileType, text string) (*Document, error) {
	chunks := chunkText(text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text content found in document")
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		AgentID:  agentID,
		Filename: filename,
		FileType: fileType,
		FileSize: int64(len(text)),
	}
	docChunks := make([]DocumentChunk, len(chunks))
	for i, c := range chunks {
		docChunks[i] = DocumentChunk{Content: c, ChunkIndex: i, Embedding: vectors[i]}
	}
	if err := s.repo.CreateDocument(ctx, doc, docChunks); err != nil {
		return nil, err
	}
	logrus.Infof("[KNOWLEDGE] Uploaded %s: %d chunks", filename, len(chunks))
	return doc, nil
}

// Search ranks the agent's active chunks by cosine similarity to the query.
func (s *Service) Search(ctx context.Context, agentID uint, query string, limit int) ([]ChunkResult, error) {
	if limit <= 0 {
		limit = 5
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	chunks, names, err := s.repo.ActiveChunks(ctx, agentID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		chunk DocumentChunk
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{chunk: c, score: CosineSimilarity(queryVec, c.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	results := make([]ChunkResult, len(ranked))
	for i, r := range ranked {
		results[i] = ChunkResult{
			Document:   names[r.chunk.DocumentID],
			Content:    r.chunk.Content,
			ChunkIndex: r.chunk.ChunkIndex,
		}
	}
	return results, nil
}

// UploadCSV parses CSV content into a data table with per-row embeddings.
func (s *Service) UploadCSV(ctx context.Context, agentID uint, name, description string, content []byte) (*DataTable, error) {
	reader := csv.NewReader(strings.NewReader(string(content)))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv file is empty")
	}

	header := records[0]
	columns := make(map[string]string, len(header))
	rows := make([]DataRow, 0, len(records)-1)
	texts := make([]string, 0, len(records)-1)

	for _, record := range records[1:] {
		data := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(record) || record[i] == "" {
				continue
			}
			data[col] = parseCell(record[i])
		}
		rows = append(rows, DataRow{Data: data})
		texts = append(texts, rowToText(data))
	}
	for _, col := range header {
		columns[col] = inferColumnType(rows, col)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Embedding = vectors[i]
	}

	table := &DataTable{AgentID: agentID, Name: name, Description: description, Columns: columns}
	if err := s.repo.CreateTable(ctx, table, rows); err != nil {
		return nil, err
	}
	logrus.Infof("[KNOWLEDGE] Uploaded table %s: %d rows, %d cols", name, len(rows), len(columns))
	return table, nil
}

// SearchRows ranks a table's rows by semantic similarity.
func (s *Service) SearchRows(ctx context.Context, tableID uint, query string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.TableRows(ctx, tableID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return CosineSimilarity(queryVec, rows[i].Embedding) > CosineSimilarity(queryVec, rows[j].Embedding)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r.Data
	}
	return out, nil
}

// QueryRows filters a table's rows. Filter values may be plain equality
// matches or {"op": "gt|lt|gte|lte|contains", "value": ...} objects.
func (s *Service) QueryRows(ctx context.Context, tableID uint, filters map[string]any) ([]map[string]any, error) {
	rows, err := s.repo.TableRows(ctx, tableID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Data)
	}
	for key, value := range filters {
		out = filterRows(out, key, value)
	}
	return out, nil
}

func (s *Service) ListTables(ctx context.Context, agentID uint) ([]DataTable, error) {
	return s.repo.ListTables(ctx, agentID)
}

func (s *Service) ListDocuments(ctx context.Context, agentID uint) ([]Document, error) {
	return s.repo.ListDocuments(ctx, agentID)
}

func filterRows(rows []map[string]any, key string, value any) []map[string]any {
	cond, isOp := value.(map[string]any)
	out := rows[:0]
	for _, r := range rows {
		got, ok := r[key]
		if !ok || got == nil {
			continue
		}
		if !isOp {
			if fmt.Sprint(got) == fmt.Sprint(value) {
				out = append(out, r)
			}
			continue
		}
		op, _ := cond["op"].(string)
		val := cond["value"]
		switch op {
		case "gt":
			if compareNumbers(got, val) > 0 {
				out = append(out, r)
			}
		case "lt":
			if compareNumbers(got, val) < 0 {
				out = append(out, r)
			}
		case "gte":
			if compareNumbers(got, val) >= 0 {
				out = append(out, r)
			}
		case "lte":
			if compareNumbers(got, val) <= 0 {
				out = append(out, r)
			}
		case "contains":
			if strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(fmt.Sprint(val))) {
				out = append(out, r)
			}
		default:
			if fmt.Sprint(got) == fmt.Sprint(val) {
				out = append(out, r)
			}
		}
	}
	return out
}

// compareNumbers returns -1/0/1 on numeric comparison, 0 on unparseable input.
func compareNumbers(a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return 0
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCell(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func inferColumnType(rows []DataRow, col string) string {
	for _, r := range rows {
		switch r.Data[col].(type) {
		case float64:
			return "number"
		case bool:
			return "boolean"
		case string:
			return "text"
		}
	}
	return "text"
}

func rowToText(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, data[k]))
	}
	return strings.Join(parts, " | ")
}

// chunkText splits text into overlapping chunks, preferring sentence or
// paragraph boundaries in the second half of each chunk.
func chunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := text[start:end]

		if end < len(text) {
			for _, sep := range []string{"\n\n", "\n", ". ", "! ", "? "} {
				if idx := strings.LastIndex(chunk, sep); idx > size/2 {
					chunk = chunk[:idx+len(sep)]
					end = start + len(chunk)
					break
				}
			}
		}

		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}
