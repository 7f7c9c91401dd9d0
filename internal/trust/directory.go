package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Directory reads trust scores across bot boundaries. The gossip dispatcher
// uses it to gate delivery on the user's standing with each recipient bot;
// everything else goes through a bot-scoped [Store].
type Directory struct {
	db DB
}

// NewDirectory creates a cross-bot score reader on db.
func NewDirectory(db DB) *Directory {
	return &Directory{db: db}
}

// Score returns the trust score for (bot, userID) and whether a relationship
// exists at all.
func (d *Directory) Score(ctx context.Context, bot, userID string) (float64, bool, error) {
	const query = `
		SELECT trust_score
		FROM whisperengine_relationships
		WHERE bot_name = $1 AND user_id = $2`
	var score float64
	err := d.db.QueryRow(ctx, query, bot, userID).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("trust: directory score %s/%q: %w", bot, userID, err)
	}
	return score, true, nil
}
