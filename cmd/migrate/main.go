package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-analytics/internal/app"
	"github.com/dvloznov/finance-analytics/internal/config"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dryRun := flag.Bool("dry-run", false, "List pending migrations without applying them")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := app.NewLogger(cfg.Log, "analytics-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.GCP.ProjectID == "" {
		log.Fatal().Msg("gcp.project_id is required (set ANALYTICS_GCP_PROJECT_ID)")
	}

	ctx := context.Background()
	m := &migrator{project: cfg.GCP.ProjectID, dataset: cfg.GCP.Dataset, appliedBy: *appliedBy, log: log}

	migrations, err := readMigrations(embedded, m.project, m.dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	client, err := bigquery.NewClient(ctx, m.project)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()
	m.client = client

	log.Info().Str("project", m.project).Str("dataset", m.dataset).Msg("Connected to BigQuery")

	if err := m.run(ctx, migrations, *dryRun); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

type migrator struct {
	client    *bigquery.Client
	project   string
	dataset   string
	appliedBy string
	log       zerolog.Logger
}

func (m *migrator) run(ctx context.Context, migrations []Migration, dryRun bool) error {
	// Ensure schema_migrations table exists
	if err := m.exec(ctx, m.ensureSchemaMigrationsSQL(), nil); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	m.log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return nil
	}

	for _, migration := range pending {
		log := m.log.With().Int("version", migration.Version).Str("name", migration.Name).Logger()
		if dryRun {
			log.Info().Msg("Pending")
			continue
		}

		log.Info().Msg("Applying")
		if err := m.exec(ctx, migration.SQL, nil); err != nil {
			return fmt.Errorf("executing %s: %w", migration.Filename, err)
		}
		if err := m.recordMigration(ctx, migration); err != nil {
			return fmt.Errorf("recording %s: %w", migration.Filename, err)
		}
		log.Info().Msg("Applied")
	}
	return nil
}

// readMigrations parses every NNNN_name.sql file in fsys, sorted by version,
// with the project and dataset placeholders substituted.
func readMigrations(fsys fs.FS, project, dataset string) ([]Migration, error) {
	files, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, path := range files {
		filename := path[strings.LastIndex(path, "/")+1:]
		version, name, ok := parseFilename(filename)
		if !ok {
			return nil, fmt.Errorf("invalid migration filename %q", filename)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, other, filename)
		}
		seen[version] = filename

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filename, err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", project)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", dataset)

		// Checksum is over the unrendered file.
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: filename,
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseFilename(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// pendingMigrations returns the migrations not yet applied. An applied
// migration whose file has changed since is an error.
func pendingMigrations(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	var pending []Migration
	for _, m := range all {
		am, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s was modified after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

func (m *migrator) table(name string) string {
	return "`" + m.project + "." + m.dataset + "." + name + "`"
}

func (m *migrator) ensureSchemaMigrationsSQL() string {
	return `
		CREATE TABLE IF NOT EXISTS ` + m.table("schema_migrations") + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`
}

// getAppliedMigrations retrieves the list of already applied migrations
func (m *migrator) getAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	query := m.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + m.table("schema_migrations") + `
		ORDER BY version ASC
	`)
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func (m *migrator) recordMigration(ctx context.Context, migration Migration) error {
	return m.exec(ctx, `
		INSERT INTO `+m.table("schema_migrations")+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	})
}

// exec runs a statement and waits for it to finish.
func (m *migrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := m.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}
