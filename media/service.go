package media

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/knowledge"
)

const maxImageDimension = 1600

// Service manages the media library: validation, image compression,
// embeddings and semantic search.
type Service struct {
	repo     Repository
	embedder knowledge.Embedder
}

func NewService(repo Repository, embedder knowledge.Embedder) *Service {
	return &Service{repo: repo, embedder: embedder}
}

// CompressImage downscales oversized images before storage. Non-decodable
// input is returned unchanged.
func CompressImage(data []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDimension && bounds.Dy() <= maxImageDimension {
		return data
	}

	resized := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data
	}
	if buf.Len() >= len(data) {
		return data
	}
	return buf.Bytes()
}

// ValidateFile enforces per-kind MIME and size limits.
func ValidateFile(contentType string, fileSize int64, mediaType string) error {
	switch mediaType {
	case KindImage:
		if !allowedType(KindImage, contentType) {
			return fmt.Errorf("invalid image type: %s", contentType)
		}
		if fileSize > MaxImageSize {
			return fmt.Errorf("image too large: %s (max %s)", humanize.Bytes(uint64(fileSize)), humanize.Bytes(MaxImageSize))
		}
	case KindVideo:
		if !allowedType(KindVideo, contentType) {
			return fmt.Errorf("invalid video type: %s", contentType)
		}
		if fileSize > MaxVideoSize {
			return fmt.Errorf("video too large: %s (max %s)", humanize.Bytes(uint64(fileSize)), humanize.Bytes(MaxVideoSize))
		}
	case KindDocument:
		// Documents pass through as-is.
	default:
		return fmt.Errorf("invalid media type: %s", mediaType)
	}
	return nil
}

// Create stores a media item and embeds its name + description.
func (s *Service) Create(ctx context.Context, m *AgentMedia) error {
	if err := ValidateFile(m.MimeType, m.FileSize, m.MediaType); err != nil {
		return err
	}
	m.IsActive = true
	m.Embedding = s.embeddingFor(ctx, m.Name, m.Description)
	if err := s.repo.Create(ctx, m); err != nil {
		return err
	}
	logrus.Infof("[MEDIA] Uploaded agent=%d id=%d type=%s", m.AgentID, m.ID, m.MediaType)
	return nil
}

// UpdateMetadata refreshes name/description/caption and re-embeds when the
// searchable text changed.
func (s *Service) UpdateMetadata(ctx context.Context, id uint, name, description, caption *string, isActive *bool) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	reembed := false
	if name != nil && *name != m.Name {
		m.Name = *name
		reembed = true
	}
	if description != nil && *description != m.Description {
		m.Description = *description
		reembed = true
	}
	if caption != nil {
		m.DefaultCaption = *caption
	}
	if isActive != nil {
		m.IsActive = *isActive
	}
	if reembed {
		m.Embedding = s.embeddingFor(ctx, m.Name, m.Description)
	}
	return s.repo.Update(ctx, m)
}

func (s *Service) GetByID(ctx context.Context, id uint) (*AgentMedia, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByAgent(ctx context.Context, agentID uint) ([]AgentMedia, error) {
	return s.repo.ListByAgent(ctx, agentID, "", true)
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	return s.repo.Delete(ctx, id)
}

// Search ranks the agent's active media by similarity to a free-text query.
func (s *Service) Search(ctx context.Context, agentID uint, query string, limit int) ([]AgentMedia, error) {
	if limit <= 0 {
		limit = 5
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByAgent(ctx, agentID, "", true)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return knowledge.CosineSimilarity(queryVec, items[i].Embedding) >
			knowledge.CosineSimilarity(queryVec, items[j].Embedding)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Service) embeddingFor(ctx context.Context, name, description string) []float64 {
	text := name
	if description != "" {
		text = name + ": " + description
	}
	if len(text) < 3 {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logrus.WithError(err).Warn("[MEDIA] Embedding failed, stored without search vector")
		return nil
	}
	return vec
}
