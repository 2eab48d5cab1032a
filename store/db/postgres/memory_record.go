package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/store"
)

const recordColumns = "id, user_id, chat_id, turn_id, role, seq, created_at, kind, content, has_artifact, artifact_url"

// Upsert inserts or replaces records by id.
func (d *Records) Upsert(ctx context.Context, records []store.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin upsert tx")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO memory_record (id, embedding, user_id, chat_id, turn_id, role, seq, created_at, kind, content, has_artifact, artifact_url)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at,
			content = EXCLUDED.content,
			has_artifact = EXCLUDED.has_artifact,
			artifact_url = EXCLUDED.artifact_url
	`
	for _, r := range records {
		md := r.Metadata
		_, err := tx.ExecContext(ctx, stmt,
			r.ID,
			pgvector.NewVector(r.Vector),
			md.UserID,
			md.ChatID,
			md.TurnID,
			string(md.Role),
			md.Seq,
			md.CreatedAt,
			string(md.Kind),
			md.Content,
			md.HasArtifact,
			md.ArtifactURL,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to upsert memory record %s", r.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit upsert")
}

// Query runs a cosine similarity search, or a metadata-only listing when
// q.MetadataOnly is set. The <=> operator is cosine distance, so similarity
// is 1 - distance.
func (d *Records) Query(ctx context.Context, q store.VectorQuery) ([]store.QueryMatch, error) {
	where, args := filterClauses(q.Filter)
	limit := q.TopK
	if limit <= 0 {
		limit = 10
	}

	var query string
	if q.MetadataOnly {
		query = `
			SELECT ` + recordColumns + `, 0 AS score
			FROM memory_record
			WHERE ` + strings.Join(where, " AND ") + `
			ORDER BY created_at DESC
			LIMIT ` + placeholder(len(args)+1)
		args = append(args, limit)
	} else {
		vector := pgvector.NewVector(q.Vector)
		query = `
			SELECT ` + recordColumns + `,
				1 - (embedding <=> ` + placeholder(len(args)+1) + `) AS score
			FROM memory_record
			WHERE ` + strings.Join(where, " AND ") + `
			ORDER BY embedding <=> ` + placeholder(len(args)+2) + `
			LIMIT ` + placeholder(len(args)+3)
		args = append(args, vector, vector, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query memory records")
	}
	defer rows.Close()

	matches := []store.QueryMatch{}
	for rows.Next() {
		var m store.QueryMatch
		var role, kind string
		err := rows.Scan(
			&m.ID,
			&m.Metadata.UserID,
			&m.Metadata.ChatID,
			&m.Metadata.TurnID,
			&role,
			&m.Metadata.Seq,
			&m.Metadata.CreatedAt,
			&kind,
			&m.Metadata.Content,
			&m.Metadata.HasArtifact,
			&m.Metadata.ArtifactURL,
			&m.Score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan memory record")
		}
		m.Metadata.Role = memory.Role(role)
		m.Metadata.Kind = memory.Kind(kind)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

// Delete removes every record matching the filter.
func (d *Records) Delete(ctx context.Context, filter store.RecordFilter) error {
	where, args := filterClauses(filter)
	stmt := `DELETE FROM memory_record WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete memory records")
	}
	return nil
}

// Stats reports the total record count.
func (d *Records) Stats(ctx context.Context) (store.VectorStats, error) {
	var stats store.VectorStats
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_record`).Scan(&stats.VectorCount)
	if err != nil {
		return stats, errors.Wrap(err, "failed to count memory records")
	}
	return stats, nil
}

func filterClauses(f store.RecordFilter) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if f.UserID != "" {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, f.UserID)
	}
	if f.ChatID != "" {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, f.ChatID)
	}
	if f.Kind != "" {
		where, args = append(where, "kind = "+placeholder(len(args)+1)), append(args, string(f.Kind))
	}
	return where, args
}
