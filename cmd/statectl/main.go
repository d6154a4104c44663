package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"risksync/internal/models"
	"risksync/internal/modules/config"
	"risksync/internal/modules/state/service"
	"risksync/internal/runner"
	"risksync/pkg/db"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const usage = `usage: statectl <command>

  show     print state from the configured backend (db_dsn, else state_file)
  migrate  copy state_file into postgres (db_dsn)
  export   copy postgres (db_dsn) into state_file
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fatal(errors.Wrap(err, "load config"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "show":
		err = show(ctx, cfg)
	case "migrate":
		err = copyState(ctx, cfg, false)
	case "export":
		err = copyState(ctx, cfg, true)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "statectl: %v\n", err)
	os.Exit(1)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*db.PgTxManager, *service.Postgres, error) {
	if cfg.DB == "" {
		return nil, nil, errors.New("db_dsn is not set")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect postgres")
	}
	tx := db.NewPgTxManager(pool)
	pg := service.NewPostgres(tx)
	if err := pg.Migrate(ctx); err != nil {
		tx.Close()
		return nil, nil, errors.Wrap(err, "migrate")
	}
	return tx, pg, nil
}

func show(ctx context.Context, cfg *config.Config) error {
	var store runner.Store = service.NewFile(cfg.StateFile)
	if cfg.DB != "" {
		tx, pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer tx.Close()
		store = pg
	}

	st, err := store.Load(ctx)
	if err != nil {
		return err
	}
	return printState(st)
}

// copyState переносит стейт между файлом и postgres; приёмник перезаписывается целиком.
func copyState(ctx context.Context, cfg *config.Config, toFile bool) error {
	tx, pg, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer tx.Close()

	file := service.NewFile(cfg.StateFile)

	var from, to runner.Store = file, pg
	if toFile {
		from, to = pg, file
	}

	st, err := from.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load source")
	}
	if err := to.Save(ctx, st); err != nil {
		return errors.Wrap(err, "save destination")
	}
	fmt.Printf("%d records copied\n", len(st))
	return nil
}

type recordView struct {
	Ticket int64            `yaml:"ticket"`
	SL     float64          `yaml:"sl"`
	TP     float64          `yaml:"tp"`
	Slaves map[string]int64 `yaml:"slaves"`
}

func printState(st models.ReconciliationState) error {
	out := make([]recordView, 0, len(st))
	for _, ticket := range st.Tickets() {
		rec := st[ticket]
		out = append(out, recordView{Ticket: ticket, SL: rec.SL, TP: rec.TP, Slaves: rec.Slaves})
	}

	bs, err := yaml.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "marshal state to yaml")
	}
	fmt.Print(string(bs))

	slaves := map[string]int{}
	for _, rec := range st {
		for acc := range rec.Slaves {
			slaves[acc]++
		}
	}
	accs := make([]string, 0, len(slaves))
	for acc := range slaves {
		accs = append(accs, acc)
	}
	sort.Strings(accs)
	for _, acc := range accs {
		fmt.Printf("# slave %s: %d positions\n", acc, slaves[acc])
	}
	return nil
}
