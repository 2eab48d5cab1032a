package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/store"
)

// Read returns the stored profile, or (nil, nil) when none exists.
func (d *Profiles) Read(ctx context.Context, userID string) (*store.UserProfile, error) {
	var doc []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT doc FROM user_profile WHERE user_id = `+placeholder(1), userID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read user profile")
	}

	var p store.UserProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode user profile")
	}
	return &p, nil
}

// Write stores the profile with an optimistic concurrency check on
// updated_at. A zero expectedUpdatedAt asserts the row does not exist yet.
func (d *Profiles) Write(ctx context.Context, profile *store.UserProfile, expectedUpdatedAt time.Time) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, "failed to encode user profile")
	}
	newTs := profile.UpdatedAt.UnixMilli()

	if expectedUpdatedAt.IsZero() {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO user_profile (user_id, doc, updated_at)
			VALUES (`+placeholders(3)+`)
			ON CONFLICT (user_id) DO NOTHING`,
			profile.UserID, doc, newTs,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert user profile")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memory.ErrStaleWrite
		}
		return nil
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profile
		SET doc = `+placeholder(1)+`, updated_at = `+placeholder(2)+`
		WHERE user_id = `+placeholder(3)+` AND updated_at = `+placeholder(4),
		doc, newTs, profile.UserID, expectedUpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update user profile")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrStaleWrite
	}
	return nil
}

// Delete removes the profile row. Deleting an absent profile is not an error.
func (d *Profiles) Delete(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM user_profile WHERE user_id = `+placeholder(1), userID)
	return errors.Wrap(err, "failed to delete user profile")
}
