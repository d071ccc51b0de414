package orders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Failure is one event the dispatch pool could not process.
type Failure struct {
	ID        int64     `json:"id"`
	ReceiptID string    `json:"receipt_id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Seq       uint64    `json:"seq"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

const failuresDDL = `
CREATE TABLE IF NOT EXISTS dispatch_failures (
	id         BIGSERIAL PRIMARY KEY,
	receipt_id TEXT        NOT NULL,
	order_id   TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	reason     TEXT        NOT NULL,
	error      TEXT        NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// FailureRepo journals failed dispatches so operators can decide on replays.
type FailureRepo struct{ DB *pgxpool.Pool }

func (r *FailureRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, failuresDDL)
	return err
}

func (r *FailureRepo) Record(ctx context.Context, f Failure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now().UTC()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO dispatch_failures(receipt_id, order_id, status, seq, reason, error, failed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.ReceiptID, f.OrderID, string(f.Status), int64(f.Seq), f.Reason, f.Error, f.FailedAt,
	)
	return err
}

func (r *FailureRepo) ListRecent(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, receipt_id, order_id, status, seq, reason, error, failed_at
		FROM dispatch_failures ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f      Failure
			status string
			seq    int64
		)
		if err := rows.Scan(&f.ID, &f.ReceiptID, &f.OrderID, &status, &seq, &f.Reason, &f.Error, &f.FailedAt); err != nil {
			return nil, err
		}
		f.Status = Status(status)
		f.Seq = uint64(seq)
		out = append(out, f)
	}
	return out, rows.Err()
}
