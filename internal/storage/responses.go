package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const responseColumns = `id, prompt_id, provider_type, model, parameters, status, file_path,
	response_time_ms, prompt_tokens, completion_tokens, total_tokens, cost_estimate,
	error_code, error_message, generated_title, title_generation_status,
	title_generated_at, title_model, created_at, updated_at`

// InsertResponse persists a new response metadata row. Row insertion
// happens after the content file is written so a crash leaves at worst
// an unreferenced file, never a row pointing at nothing.
func (s *Store) InsertResponse(ctx context.Context, meta *ResponseMetadata) error {
	now := time.Now().UTC()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	params, err := json.Marshal(meta.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	if meta.Parameters == nil {
		params = []byte("{}")
	}

	var titleStatus sql.NullString
	if meta.TitleGenerationStatus != nil {
		titleStatus = sql.NullString{String: string(*meta.TitleGenerationStatus), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO llm_responses
			(id, prompt_id, provider_type, model, parameters, status, file_path,
			 response_time_ms, prompt_tokens, completion_tokens, total_tokens, cost_estimate,
			 error_code, error_message, generated_title, title_generation_status,
			 title_generated_at, title_model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		meta.ID, meta.PromptID, meta.ProviderType, meta.Model, string(params),
		string(meta.Status), meta.FilePath,
		nullInt64(meta.ResponseTimeMs), nullInt(meta.PromptTokens), nullInt(meta.CompletionTokens),
		nullInt(meta.TotalTokens), nullFloat(meta.CostEstimate),
		nullStr(meta.ErrorCode), nullStr(meta.ErrorMessage),
		nullStr(meta.GeneratedTitle), titleStatus,
		nullMs(meta.TitleGeneratedAt), nullStr(meta.TitleModel),
		timeToMs(meta.CreatedAt), timeToMs(meta.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// SaveResponseRow upserts a metadata row. Rows created at enqueue time
// are updated in place; direct saves insert.
func (s *Store) SaveResponseRow(ctx context.Context, meta *ResponseMetadata) error {
	now := time.Now().UTC()
	if meta.ID == "" {
		return s.InsertResponse(ctx, meta)
	}
	meta.UpdatedAt = now

	params, err := json.Marshal(meta.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	if meta.Parameters == nil {
		params = []byte("{}")
	}

	var titleStatus sql.NullString
	if meta.TitleGenerationStatus != nil {
		titleStatus = sql.NullString{String: string(*meta.TitleGenerationStatus), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE llm_responses
		SET provider_type = ?, model = ?, parameters = ?, status = ?, file_path = ?,
			response_time_ms = ?, prompt_tokens = ?, completion_tokens = ?, total_tokens = ?,
			cost_estimate = ?, error_code = ?, error_message = ?,
			generated_title = ?, title_generation_status = ?, title_generated_at = ?, title_model = ?,
			updated_at = ?
		WHERE id = ?`),
		meta.ProviderType, meta.Model, string(params), string(meta.Status), meta.FilePath,
		nullInt64(meta.ResponseTimeMs), nullInt(meta.PromptTokens), nullInt(meta.CompletionTokens),
		nullInt(meta.TotalTokens), nullFloat(meta.CostEstimate),
		nullStr(meta.ErrorCode), nullStr(meta.ErrorMessage),
		nullStr(meta.GeneratedTitle), titleStatus, nullMs(meta.TitleGeneratedAt), nullStr(meta.TitleModel),
		timeToMs(meta.UpdatedAt), meta.ID,
	)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.InsertResponse(ctx, meta)
}

// SetResponseStatus moves a row to a new lifecycle state.
func (s *Store) SetResponseStatus(ctx context.Context, id string, status ResponseStatus) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE llm_responses SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), timeToMs(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("set response status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetResponseMeta returns the metadata row for a response id.
func (s *Store) GetResponseMeta(ctx context.Context, id string) (*ResponseMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT `+responseColumns+` FROM llm_responses WHERE id = ?`), id)
	return scanResponse(row)
}

// ListResponses returns all responses for a prompt, newest first.
func (s *Store) ListResponses(ctx context.Context, promptID string) ([]ResponseMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		s.db.rebind(`SELECT `+responseColumns+` FROM llm_responses
			WHERE prompt_id = ? ORDER BY created_at DESC, id DESC`), promptID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []ResponseMetadata
	for rows.Next() {
		meta, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *meta)
	}
	return out, rows.Err()
}

// UpdateTitle records the outcome of a title generation pass.
func (s *Store) UpdateTitle(ctx context.Context, id string, title *string, status TitleStatus, generatedAt *time.Time, model *string) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE llm_responses
		SET generated_title = ?, title_generation_status = ?, title_generated_at = ?,
			title_model = ?, updated_at = ?
		WHERE id = ?`),
		nullStr(title), string(status), nullMs(generatedAt), nullStr(model),
		timeToMs(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTitleStatus moves a response's title generation to the given state
// without touching the title itself.
func (s *Store) SetTitleStatus(ctx context.Context, id string, status TitleStatus) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE llm_responses SET title_generation_status = ?, updated_at = ? WHERE id = ?`),
		string(status), timeToMs(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("set title status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResponseMeta removes a metadata row.
func (s *Store) DeleteResponseMeta(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.rebind(`DELETE FROM llm_responses WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResponsesForPrompt removes every row for a prompt and returns
// the file paths the caller should clean up afterwards.
func (s *Store) DeleteResponsesForPrompt(ctx context.Context, promptID string) ([]string, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		s.db.rebind(`SELECT file_path FROM llm_responses WHERE prompt_id = ? AND file_path != ''`), promptID)
	if err != nil {
		return nil, 0, fmt.Errorf("list response files: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan file path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	res, err := s.db.ExecContext(ctx,
		s.db.rebind(`DELETE FROM llm_responses WHERE prompt_id = ?`), promptID)
	if err != nil {
		return nil, 0, fmt.Errorf("delete responses: %w", err)
	}
	n, _ := res.RowsAffected()
	return paths, n, nil
}

// CancelDangling marks rows stuck in pending or processing as cancelled.
// Run at startup and shutdown so a crash never leaves requests that look
// in flight forever.
func (s *Store) CancelDangling(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE llm_responses SET status = ?, updated_at = ?
		WHERE status IN (?, ?)`),
		string(StatusCancelled), timeToMs(time.Now().UTC()),
		string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel dangling responses: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("cancelled dangling responses", "count", n)
	}
	return n, nil
}

func scanResponse(row rowScanner) (*ResponseMetadata, error) {
	var (
		meta                     ResponseMetadata
		paramsRaw                string
		status                   string
		respTime                 sql.NullInt64
		pTok, cTok, tTok         sql.NullInt64
		cost                     sql.NullFloat64
		errCode, errMsg          sql.NullString
		title, titleStatus       sql.NullString
		titleAt                  sql.NullInt64
		titleModel               sql.NullString
		createdMs, updatedMs     int64
	)
	err := row.Scan(&meta.ID, &meta.PromptID, &meta.ProviderType, &meta.Model, &paramsRaw,
		&status, &meta.FilePath, &respTime, &pTok, &cTok, &tTok, &cost,
		&errCode, &errMsg, &title, &titleStatus, &titleAt, &titleModel,
		&createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan response: %w", err)
	}

	if paramsRaw != "" && paramsRaw != "{}" && paramsRaw != "null" {
		if err := json.Unmarshal([]byte(paramsRaw), &meta.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	meta.Status = ResponseStatus(status)
	meta.ResponseTimeMs = int64Ptr(respTime)
	meta.PromptTokens = intPtr(pTok)
	meta.CompletionTokens = intPtr(cTok)
	meta.TotalTokens = intPtr(tTok)
	meta.CostEstimate = floatPtr(cost)
	meta.ErrorCode = strPtr(errCode)
	meta.ErrorMessage = strPtr(errMsg)
	meta.GeneratedTitle = strPtr(title)
	if titleStatus.Valid {
		ts := TitleStatus(titleStatus.String)
		meta.TitleGenerationStatus = &ts
	}
	meta.TitleGeneratedAt = msPtr(titleAt)
	meta.TitleModel = strPtr(titleModel)
	meta.CreatedAt = msToTime(createdMs)
	meta.UpdatedAt = msToTime(updatedMs)
	return &meta, nil
}
