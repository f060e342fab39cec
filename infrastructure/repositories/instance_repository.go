package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"roadmapper/database"
	"roadmapper/domain/contracts"
	"roadmapper/domain/tenant"
	"roadmapper/logging"
)

// SqliteInstanceRepository persists instance definitions and their
// last-known health snapshots. Settings and health are JSON blobs;
// hosts are relational so host-based resolution stays a single lookup.
type SqliteInstanceRepository struct {
	db     *database.Database
	logger *logging.Logger
}

// NewSqliteInstanceRepository creates an instance repository over the shared database.
func NewSqliteInstanceRepository(db *database.Database) *SqliteInstanceRepository {
	return &SqliteInstanceRepository{
		db:     db,
		logger: logging.Default().WithComponent("instance_repository"),
	}
}

var _ contracts.InstanceRepository = (*SqliteInstanceRepository)(nil)

const instanceColumns = `slug, display_name, department, description, settings_json, health_json`

// GetBySlug returns the instance with the given slug.
func (r *SqliteInstanceRepository) GetBySlug(ctx context.Context, slug string) (*tenant.Config, error) {
	row := r.db.ReadDB().QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE slug = ?`, strings.ToLower(slug))
	return r.scanInstance(ctx, row)
}

// GetByHost returns the instance registered for the given hostname.
func (r *SqliteInstanceRepository) GetByHost(ctx context.Context, host string) (*tenant.Config, error) {
	row := r.db.ReadDB().QueryRowContext(ctx,
		`SELECT i.slug, i.display_name, i.department, i.description, i.settings_json, i.health_json
		 FROM instances i JOIN instance_hosts h ON h.slug = i.slug
		 WHERE h.host = ?`, strings.ToLower(host))
	return r.scanInstance(ctx, row)
}

// List returns all instances ordered by slug.
func (r *SqliteInstanceRepository) List(ctx context.Context) ([]*tenant.Config, error) {
	rows, err := r.db.ReadDB().QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*tenant.Config
	for rows.Next() {
		cfg, err := r.scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	for _, cfg := range out {
		hosts, err := r.hostsFor(ctx, cfg.Slug)
		if err != nil {
			return nil, err
		}
		cfg.Hosts = hosts
	}
	return out, nil
}

// Save upserts an instance definition and its host registrations.
func (r *SqliteInstanceRepository) Save(ctx context.Context, cfg *tenant.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("save instance: %w", err)
	}

	settingsJSON, err := json.Marshal(cfg.SharePoint)
	if err != nil {
		return fmt.Errorf("marshal instance settings: %w", err)
	}
	var healthJSON []byte
	if cfg.Health != nil {
		healthJSON, err = json.Marshal(cfg.Health)
		if err != nil {
			return fmt.Errorf("marshal instance health: %w", err)
		}
	}

	tx, err := r.db.WriteDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save instance: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instances (slug, display_name, department, description, settings_json, health_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(slug) DO UPDATE SET
		   display_name = excluded.display_name,
		   department = excluded.department,
		   description = excluded.description,
		   settings_json = excluded.settings_json,
		   updated_at = CURRENT_TIMESTAMP`,
		cfg.Slug, cfg.DisplayName, cfg.Department, cfg.Description,
		string(settingsJSON), nullableString(healthJSON),
	); err != nil {
		return fmt.Errorf("upsert instance %s: %w", cfg.Slug, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM instance_hosts WHERE slug = ?`, cfg.Slug); err != nil {
		return fmt.Errorf("clear instance hosts for %s: %w", cfg.Slug, err)
	}
	for _, host := range cfg.Hosts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO instance_hosts (host, slug) VALUES (?, ?)`,
			strings.ToLower(host), cfg.Slug,
		); err != nil {
			return fmt.Errorf("register host %s for %s: %w", host, cfg.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save instance %s: %w", cfg.Slug, err)
	}

	r.logger.Database("Instance saved", "slug", cfg.Slug, "hosts", len(cfg.Hosts))
	return nil
}

// SaveHealth appends a fresh health snapshot; the only write the gateway
// itself performs against instance configuration.
func (r *SqliteInstanceRepository) SaveHealth(ctx context.Context, slug string, health *tenant.Health) error {
	healthJSON, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("marshal health for %s: %w", slug, err)
	}

	res, err := r.db.WriteDB().ExecContext(ctx,
		`UPDATE instances SET health_json = ?, updated_at = CURRENT_TIMESTAMP WHERE slug = ?`,
		string(healthJSON), strings.ToLower(slug))
	if err != nil {
		return fmt.Errorf("save health for %s: %w", slug, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save health for %s: %w", slug, err)
	}
	if affected == 0 {
		return contracts.ErrInstanceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SqliteInstanceRepository) scanInstance(ctx context.Context, row *sql.Row) (*tenant.Config, error) {
	cfg, err := r.scanInstanceRow(row)
	if err != nil {
		return nil, err
	}
	hosts, err := r.hostsFor(ctx, cfg.Slug)
	if err != nil {
		return nil, err
	}
	cfg.Hosts = hosts
	return cfg, nil
}

func (r *SqliteInstanceRepository) scanInstanceRow(row rowScanner) (*tenant.Config, error) {
	var (
		cfg        tenant.Config
		department sql.NullString
		descr      sql.NullString
		settings   string
		health     sql.NullString
	)
	if err := row.Scan(&cfg.Slug, &cfg.DisplayName, &department, &descr, &settings, &health); err != nil {
		if err == sql.ErrNoRows {
			return nil, contracts.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	cfg.Department = department.String
	cfg.Description = descr.String

	if err := json.Unmarshal([]byte(settings), &cfg.SharePoint); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", cfg.Slug, err)
	}
	if health.Valid && health.String != "" {
		var h tenant.Health
		if err := json.Unmarshal([]byte(health.String), &h); err != nil {
			return nil, fmt.Errorf("decode health for %s: %w", cfg.Slug, err)
		}
		cfg.Health = &h
	}
	return &cfg, nil
}

func (r *SqliteInstanceRepository) hostsFor(ctx context.Context, slug string) ([]string, error) {
	rows, err := r.db.ReadDB().QueryContext(ctx,
		`SELECT host FROM instance_hosts WHERE slug = ? ORDER BY host`, slug)
	if err != nil {
		return nil, fmt.Errorf("hosts for %s: %w", slug, err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan host for %s: %w", slug, err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
