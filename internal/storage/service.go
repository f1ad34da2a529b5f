package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptd/internal/logger"
)

// Service coordinates the relational store and the file store so the
// hybrid write and delete orderings hold: content file before metadata
// row on save, metadata row before content file on delete.
type Service struct {
	store  *Store
	files  *FileStore
	logger *logger.Logger
}

func NewService(store *Store, files *FileStore, log *logger.Logger) *Service {
	return &Service{store: store, files: files, logger: log.WithComponent("storage")}
}

// Store exposes the relational layer for callers that only touch rows.
func (s *Service) Store() *Store {
	return s.store
}

// Files exposes the file layer.
func (s *Service) Files() *FileStore {
	return s.files
}

// CreatePending inserts the row for a freshly enqueued request so the
// queue survives in history even if the process dies before the
// request runs.
func (s *Service) CreatePending(ctx context.Context, meta *ResponseMetadata) error {
	meta.Status = StatusPending
	meta.FilePath = ""
	return s.store.InsertResponse(ctx, meta)
}

// MarkProcessing moves a pending row to processing.
func (s *Service) MarkProcessing(ctx context.Context, id string) error {
	return s.store.SetResponseStatus(ctx, id, StatusProcessing)
}

// SaveResponse persists a finished response. Completed and failed
// responses get a content file (empty body on failure) written before
// the row; cancelled responses get a row only. A row created at
// enqueue time is updated in place.
func (s *Service) SaveResponse(ctx context.Context, meta *ResponseMetadata, promptName, promptText, content string) error {
	// The file path embeds the response id, so it must exist before
	// the file is written.
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Status != StatusCancelled {
		fm := FrontMatter{
			ID:               meta.ID,
			PromptID:         meta.PromptID,
			Provider:         meta.ProviderType,
			Model:            meta.Model,
			Status:           string(meta.Status),
			CreatedAt:        meta.CreatedAt,
			Parameters:       meta.Parameters,
			Prompt:           promptText,
			ResponseTimeMs:   meta.ResponseTimeMs,
			PromptTokens:     meta.PromptTokens,
			CompletionTokens: meta.CompletionTokens,
			TotalTokens:      meta.TotalTokens,
			CostEstimate:     meta.CostEstimate,
			ErrorCode:        meta.ErrorCode,
			ErrorMessage:     meta.ErrorMessage,
		}
		rel, err := s.files.WriteResponse(meta.PromptID, promptName, meta.ID, fm, content)
		if err != nil {
			return fmt.Errorf("write response content: %w", err)
		}
		meta.FilePath = rel
	}

	if err := s.store.SaveResponseRow(ctx, meta); err != nil {
		// The row is the source of truth; an unreferenced file is
		// harmless, so no cleanup on this path.
		return err
	}
	return nil
}

// SetTitle records a title generation outcome on the metadata row and
// mirrors the title fields into the content file's front-matter when
// one exists, so older files stay readable and newer ones carry the
// title without the database.
func (s *Service) SetTitle(ctx context.Context, id string, title *string, status TitleStatus, generatedAt *time.Time, model *string) error {
	if err := s.store.UpdateTitle(ctx, id, title, status, generatedAt, model); err != nil {
		return err
	}
	meta, err := s.store.GetResponseMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta.FilePath == "" {
		return nil
	}
	if err := s.files.WriteTitle(meta.FilePath, title, string(status), generatedAt, model); err != nil {
		s.logger.Warn("title not mirrored to response file", "response_id", id, "file_path", meta.FilePath, "error", err)
	}
	return nil
}

// GetResponse returns metadata plus content. A row whose file has gone
// missing is returned with Orphaned set and empty content rather than
// an error, so history stays readable after partial data loss.
func (s *Service) GetResponse(ctx context.Context, id string) (*ResponseMetadata, string, error) {
	meta, err := s.store.GetResponseMeta(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if meta.FilePath == "" {
		return meta, "", nil
	}
	content, err := s.files.ReadContent(meta.FilePath)
	if err != nil {
		s.logger.Warn("response content missing", "response_id", id, "file_path", meta.FilePath)
		meta.Orphaned = true
		return meta, "", nil
	}
	return meta, content, nil
}

// ListHistory returns all responses for a prompt, newest first, marking
// rows whose content file is missing.
func (s *Service) ListHistory(ctx context.Context, promptID string) ([]ResponseMetadata, error) {
	metas, err := s.store.ListResponses(ctx, promptID)
	if err != nil {
		return nil, err
	}
	for i := range metas {
		if metas[i].FilePath != "" && !s.files.HasFile(metas[i].FilePath) {
			metas[i].Orphaned = true
		}
	}
	return metas, nil
}

// DeleteResponse removes the metadata row first, then the file; the
// file delete is idempotent so retries after a partial failure succeed.
func (s *Service) DeleteResponse(ctx context.Context, id string) error {
	meta, err := s.store.GetResponseMeta(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteResponseMeta(ctx, id); err != nil {
		return err
	}
	if err := s.files.DeleteFile(meta.FilePath); err != nil {
		s.logger.Warn("response file left behind", "response_id", id, "error", err)
	}
	return nil
}

// DeleteAllResponses removes every response for a prompt and returns
// how many rows were deleted.
func (s *Service) DeleteAllResponses(ctx context.Context, promptID string) (int, error) {
	paths, deleted, err := s.store.DeleteResponsesForPrompt(ctx, promptID)
	if err != nil {
		return 0, err
	}
	for _, p := range paths {
		if err := s.files.DeleteFile(p); err != nil {
			s.logger.Warn("response file left behind", "file_path", p, "error", err)
		}
	}
	return int(deleted), nil
}
