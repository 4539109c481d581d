package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"

	"go.etcd.io/bbolt"

	"school-admin/internal/model"
)

// AuditRepository appends entries under monotonically increasing sequence
// keys, so a reverse cursor walk yields newest first.
type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry model.AuditEntry) error {
	return r.db.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error) {
	query = query.Normalize()
	action := strings.TrimSpace(query.Action)
	actorID := strings.TrimSpace(query.ActorID)
	offset := (query.Page - 1) * query.Limit

	entries := make([]model.AuditEntry, 0)
	total := 0

	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e model.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if action != "" && !strings.EqualFold(e.Action, action) {
				continue
			}
			if actorID != "" && e.ActorID != actorID {
				continue
			}

			if total >= offset && len(entries) < query.Limit {
				entries = append(entries, e)
			}
			total++
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
