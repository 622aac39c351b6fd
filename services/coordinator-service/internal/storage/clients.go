package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

type ClientRepository struct {
	pool *db.Pool
}

func NewClientRepository(pool *db.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

func (r *ClientRepository) Get(ctx context.Context, id int64) (model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, COALESCE(phone, ''), COALESCE(city, ''), chat_id, rating, rating_count
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FullName, &c.Phone, &c.City, &c.ChatID, &c.Rating, &c.RatingCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Client{}, model.ErrNotFound
	}
	return c, err
}

// AddRating folds one more star rating into the accumulator pair.
func (r *ClientRepository) AddRating(ctx context.Context, tx pgx.Tx, id int64, stars int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE clients
		SET rating = rating + $2,
			rating_count = rating_count + 1
		WHERE id = $1
	`, id, stars)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
