package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"dvhanalytics/pkg/cohortstats"
)

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
}

// PostgresSource reads the DVH tables from a PostgreSQL database.
type PostgresSource struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPool opens a connection pool and checks that the database answers.
func NewPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresSource connects to the database described by cfg.
func NewPostgresSource(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresSource, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresSource{pool: pool, logger: logger}, nil
}

// Load queries the DVHs matching q joined with their plans, then the
// plan, prescription and beam rows of the matched studies.
func (s *PostgresSource) Load(ctx context.Context, q Query) (*Dataset, error) {
	sql, args := dvhQuery(q)
	dvhs, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query dvhs: %w", err)
	}

	ds := &Dataset{}
	for _, row := range dvhs {
		ds.DVHs = append(ds.DVHs, rawRecord(row))
	}
	if len(ds.DVHs) == 0 {
		return nil, ErrNoRecords
	}
	uids := ds.UIDs()

	for _, t := range []struct {
		table string
		dst   *[]cohortstats.Row
	}{
		{"plans", &ds.Tables.Plans},
		{"rxs", &ds.Tables.Rxs},
		{"beams", &ds.Tables.Beams},
	} {
		rows, err := s.query(ctx, "SELECT * FROM "+t.table+" WHERE study_instance_uid = ANY($1)", uids)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", t.table, err)
		}
		*t.dst = restrict(rows, uids)
	}

	s.logger.Debug().
		Int("dvhs", len(ds.DVHs)).
		Int("studies", len(uids)).
		Msg("loaded database tables")
	return ds, nil
}

// Close releases the pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// dvhQuery builds the DVHs query for q with positional parameters.
func dvhQuery(q Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("lower(d.%s) = lower($%d)", column, len(args)))
	}
	add("roi_name", q.ROIName)
	add("roi_type", q.ROIType)
	add("institutional_roi", q.InstitutionalROI)
	add("physician_roi", q.PhysicianROI)
	if len(q.MRNs) > 0 {
		args = append(args, q.MRNs)
		where = append(where, fmt.Sprintf("d.mrn = ANY($%d)", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT d.*, p.rx_dose, p.sim_study_date FROM dvhs d ")
	b.WriteString("LEFT JOIN plans p ON p.study_instance_uid = d.study_instance_uid")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY d.mrn, d.study_instance_uid, d.roi_name")
	return b.String(), args
}

// query runs sql and returns every row as text keyed by column name. NULL
// becomes the "None" sentinel.
func (s *PostgresSource) query(ctx context.Context, sql string, args ...any) ([]map[string]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(fields))
		for i, fd := range fields {
			row[strings.ToLower(fd.Name)] = valueString(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// valueString renders a driver value the way the table exports write it.
func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.Format("2006-01-02")
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return "None"
		}
		return strconv.FormatFloat(f.Float64, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
