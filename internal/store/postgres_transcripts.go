package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func (s *PostgresStore) ListSegments(ctx context.Context, contentID int64) ([]models.TranscriptSegment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT content_id, segment_order, start_time, end_time, text
		 FROM transcript_segments WHERE content_id = $1 ORDER BY segment_order`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segs []models.TranscriptSegment
	for rows.Next() {
		var seg models.TranscriptSegment
		if err := rows.Scan(&seg.ContentID, &seg.Order, &seg.Start, &seg.End, &seg.Text); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

func (s *PostgresStore) DeleteOrphanSegments(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`WITH gone AS (
		   DELETE FROM transcript_segments t
		   WHERE NOT EXISTS (SELECT 1 FROM content_items c WHERE c.id = t.content_id)
		   RETURNING t.content_id
		 )
		 SELECT DISTINCT content_id FROM gone ORDER BY content_id`)
	if err != nil {
		return nil, fmt.Errorf("delete orphan segments: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("delete orphan segments: %w", err)
	}
	return ids, nil
}
