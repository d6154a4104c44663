package service

import (
	"context"

	"risksync/internal/models"
	"risksync/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS replication_records (
	master_ticket BIGINT PRIMARY KEY,
	sl            DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp            DOUBLE PRECISION NOT NULL DEFAULT 0,
	slaves        JSONB NOT NULL DEFAULT '{}'::jsonb
)`
	selectAllSQL = `SELECT master_ticket, sl, tp, slaves FROM replication_records`
	deleteAllSQL = `DELETE FROM replication_records`
	insertSQL    = `INSERT INTO replication_records (master_ticket, sl, tp, slaves) VALUES ($1, $2, $3, $4)`
)

// Postgres хранит стейт в таблице replication_records. Save целиком переписывает таблицу в одной транзакции.
type Postgres struct {
	tx db.TxManager
}

func NewPostgres(tx db.TxManager) *Postgres {
	return &Postgres{tx: tx}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	return p.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, createTableSQL)
		return err
	})
}

func (p *Postgres) Load(ctx context.Context) (st models.ReconciliationState, err error) {
	st = make(models.ReconciliationState)

	err = p.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctxTx, selectAllSQL)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ticket int64
				sl, tp float64
				raw    []byte
			)
			if err := rows.Scan(&ticket, &sl, &tp, &raw); err != nil {
				return err
			}
			rec := models.NewReplicationRecord(sl, tp)
			if len(raw) > 0 {
				if err := sonic.Unmarshal(raw, &rec.Slaves); err != nil {
					return errors.Wrapf(err, "slaves of #%d", ticket)
				}
				if rec.Slaves == nil {
					rec.Slaves = make(map[string]int64)
				}
			}
			st[ticket] = rec
		}
		return rows.Err()
	})
	if err != nil {
		return make(models.ReconciliationState), errors.Wrapf(models.ErrPersistence, "load replication_records: %v", err)
	}
	return st, nil
}

func (p *Postgres) Save(ctx context.Context, st models.ReconciliationState) error {
	err := p.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		if _, err := tx.Exec(ctxTx, deleteAllSQL); err != nil {
			return err
		}
		for _, ticket := range st.Tickets() {
			rec := st[ticket]
			slaves := rec.Slaves
			if slaves == nil {
				slaves = map[string]int64{}
			}
			raw, err := sonic.Marshal(slaves)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctxTx, insertSQL, ticket, rec.SL, rec.TP, raw); err != nil {
				return errors.Wrapf(err, "insert #%d", ticket)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(models.ErrPersistence, "save replication_records: %v", err)
	}
	return nil
}
