package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CreateDeployment creates a new deployment record
func (s *SQLiteStore) CreateDeployment(ctx context.Context, rec *DeploymentRecord) error {
	query := `
		INSERT INTO deployments (
			id, name, repository, environment, status, previous_status,
			requirements, required_approvals, resources, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Repository,
		rec.Environment,
		rec.Status,
		rec.PreviousStatus,
		rec.Requirements,
		rec.RequiredApprovals,
		rec.Resources,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.Version,
	)

	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*DeploymentRecord, error) {
	query := `
		SELECT id, name, repository, environment, status, previous_status,
			   requirements, required_approvals, resources, created_at, updated_at, version
		FROM deployments
		WHERE id = ?
	`

	rec := &DeploymentRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Name,
		&rec.Repository,
		&rec.Environment,
		&rec.Status,
		&rec.PreviousStatus,
		&rec.Requirements,
		&rec.RequiredApprovals,
		&rec.Resources,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Version,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return rec, nil
}

// ListDeployments lists deployments with an optional status filter and pagination
func (s *SQLiteStore) ListDeployments(ctx context.Context, status *string, limit, offset int) ([]*DeploymentRecord, error) {
	query := `
		SELECT id, name, repository, environment, status, previous_status,
			   requirements, required_approvals, resources, created_at, updated_at, version
		FROM deployments
		WHERE (? IS NULL OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	recs := []*DeploymentRecord{}
	for rows.Next() {
		rec := &DeploymentRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&rec.Repository,
			&rec.Environment,
			&rec.Status,
			&rec.PreviousStatus,
			&rec.Requirements,
			&rec.RequiredApprovals,
			&rec.Resources,
			&rec.CreatedAt,
			&rec.UpdatedAt,
			&rec.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return recs, nil
}

// TransitionDeployment atomically updates the deployment status and appends
// exactly one history record. The update is guarded by expectedVersion so a
// concurrent writer loses with ErrVersionConflict instead of clobbering.
func (s *SQLiteStore) TransitionDeployment(ctx context.Context, id, fromStatus, toStatus, metadata string, expectedVersion int64) (*TransitionRecord, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	updateQuery := `
		UPDATE deployments
		SET status = ?, previous_status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := tx.ExecContext(ctx, updateQuery, toStatus, fromStatus, now, id, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update deployment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing row from a lost optimistic race
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM deployments WHERE id = ?", id).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check deployment existence: %w", err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("deployment %s at version %d: %w", id, expectedVersion, ErrVersionConflict)
	}

	insertQuery := `
		INSERT INTO deployment_transitions (deployment_id, from_status, status, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	insertResult, err := tx.ExecContext(ctx, insertQuery, id, fromStatus, toStatus, metadata, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append transition record: %w", err)
	}

	recordID, err := insertResult.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get transition record ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return &TransitionRecord{
		ID:           recordID,
		DeploymentID: id,
		FromStatus:   fromStatus,
		Status:       toStatus,
		Metadata:     metadata,
		Timestamp:    now,
	}, nil
}

// UpdateDeploymentRequirements replaces the requirements blob under the
// optimistic version guard.
func (s *SQLiteStore) UpdateDeploymentRequirements(ctx context.Context, id, requirements string, expectedVersion int64) error {
	query := `
		UPDATE deployments
		SET requirements = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query, requirements, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update deployment requirements: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment %s at version %d: %w", id, expectedVersion, ErrVersionConflict)
	}

	return nil
}

// UpdateDeploymentResources replaces the provisioned resources blob under
// the optimistic version guard.
func (s *SQLiteStore) UpdateDeploymentResources(ctx context.Context, id, resources string, expectedVersion int64) error {
	query := `
		UPDATE deployments
		SET resources = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query, resources, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update deployment resources: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment %s at version %d: %w", id, expectedVersion, ErrVersionConflict)
	}

	return nil
}

// SetRequiredApprovals updates the required approval count for a deployment
func (s *SQLiteStore) SetRequiredApprovals(ctx context.Context, id string, count int) error {
	query := `UPDATE deployments SET required_approvals = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, count, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set required approvals: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListTransitions lists all history records for a deployment ordered by commit time
func (s *SQLiteStore) ListTransitions(ctx context.Context, deploymentID string) ([]*TransitionRecord, error) {
	query := `
		SELECT id, deployment_id, from_status, status, metadata, timestamp
		FROM deployment_transitions
		WHERE deployment_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	recs := []*TransitionRecord{}
	for rows.Next() {
		rec := &TransitionRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.DeploymentID,
			&rec.FromStatus,
			&rec.Status,
			&rec.Metadata,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return recs, nil
}

// UpsertServiceConfig inserts or updates a service config
func (s *SQLiteStore) UpsertServiceConfig(ctx context.Context, rec *ServiceConfigRecord) error {
	query := `
		INSERT INTO service_configs (
			id, deployment_id, service_type, encrypted_creds, validated, validated_at,
			sandbox_tested, sandbox_tested_at, provider_config, environment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id, service_type) DO UPDATE SET
			encrypted_creds = excluded.encrypted_creds,
			validated = excluded.validated,
			validated_at = excluded.validated_at,
			sandbox_tested = excluded.sandbox_tested,
			sandbox_tested_at = excluded.sandbox_tested_at,
			provider_config = excluded.provider_config,
			environment = excluded.environment,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.DeploymentID,
		rec.ServiceType,
		rec.EncryptedCreds,
		rec.Validated,
		rec.ValidatedAt,
		rec.SandboxTested,
		rec.SandboxTestedAt,
		rec.ProviderConfig,
		rec.Environment,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert service config: %w", err)
	}

	return nil
}

// GetServiceConfig retrieves a service config by deployment and service type
func (s *SQLiteStore) GetServiceConfig(ctx context.Context, deploymentID, serviceType string) (*ServiceConfigRecord, error) {
	query := `
		SELECT id, deployment_id, service_type, encrypted_creds, validated, validated_at,
			   sandbox_tested, sandbox_tested_at, provider_config, environment, created_at, updated_at
		FROM service_configs
		WHERE deployment_id = ? AND service_type = ?
	`

	rec := &ServiceConfigRecord{}
	err := s.db.QueryRowContext(ctx, query, deploymentID, serviceType).Scan(
		&rec.ID,
		&rec.DeploymentID,
		&rec.ServiceType,
		&rec.EncryptedCreds,
		&rec.Validated,
		&rec.ValidatedAt,
		&rec.SandboxTested,
		&rec.SandboxTestedAt,
		&rec.ProviderConfig,
		&rec.Environment,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service config %s/%s: %w", deploymentID, serviceType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service config: %w", err)
	}

	return rec, nil
}

// ListServiceConfigs lists all service configs for a deployment
func (s *SQLiteStore) ListServiceConfigs(ctx context.Context, deploymentID string) ([]*ServiceConfigRecord, error) {
	query := `
		SELECT id, deployment_id, service_type, encrypted_creds, validated, validated_at,
			   sandbox_tested, sandbox_tested_at, provider_config, environment, created_at, updated_at
		FROM service_configs
		WHERE deployment_id = ?
		ORDER BY service_type ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service configs: %w", err)
	}
	defer rows.Close()

	recs := []*ServiceConfigRecord{}
	for rows.Next() {
		rec := &ServiceConfigRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.DeploymentID,
			&rec.ServiceType,
			&rec.EncryptedCreds,
			&rec.Validated,
			&rec.ValidatedAt,
			&rec.SandboxTested,
			&rec.SandboxTestedAt,
			&rec.ProviderConfig,
			&rec.Environment,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service config: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating service configs: %w", err)
	}

	return recs, nil
}

// MarkServiceConfigTested records a successful validation. Sandbox testing
// implies validation, so validated is always set.
func (s *SQLiteStore) MarkServiceConfigTested(ctx context.Context, deploymentID, serviceType string, sandboxTested bool, at time.Time) error {
	query := `
		UPDATE service_configs
		SET validated = 1, validated_at = ?,
			sandbox_tested = CASE WHEN ? THEN 1 ELSE sandbox_tested END,
			sandbox_tested_at = CASE WHEN ? THEN ? ELSE sandbox_tested_at END,
			updated_at = ?
		WHERE deployment_id = ? AND service_type = ?
	`

	result, err := s.db.ExecContext(ctx, query, at, sandboxTested, sandboxTested, at, at, deploymentID, serviceType)
	if err != nil {
		return fmt.Errorf("failed to mark service config tested: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("service config %s/%s: %w", deploymentID, serviceType, ErrNotFound)
	}

	return nil
}

// UpsertServiceDefinition inserts or updates a service definition
func (s *SQLiteStore) UpsertServiceDefinition(ctx context.Context, rec *ServiceDefinitionRecord) error {
	query := `
		INSERT INTO service_definitions (service_type, credential_schema, test_source, test_language, generated_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_type) DO UPDATE SET
			credential_schema = excluded.credential_schema,
			test_source = excluded.test_source,
			test_language = excluded.test_language,
			generated_at = excluded.generated_at,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ServiceType,
		rec.CredentialSchema,
		rec.TestSource,
		rec.TestLanguage,
		rec.GeneratedAt,
		rec.Active,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert service definition: %w", err)
	}

	return nil
}

// GetServiceDefinition retrieves a service definition by service type
func (s *SQLiteStore) GetServiceDefinition(ctx context.Context, serviceType string) (*ServiceDefinitionRecord, error) {
	query := `
		SELECT service_type, credential_schema, test_source, test_language, generated_at, active
		FROM service_definitions
		WHERE service_type = ?
	`

	rec := &ServiceDefinitionRecord{}
	err := s.db.QueryRowContext(ctx, query, serviceType).Scan(
		&rec.ServiceType,
		&rec.CredentialSchema,
		&rec.TestSource,
		&rec.TestLanguage,
		&rec.GeneratedAt,
		&rec.Active,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service definition %s: %w", serviceType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service definition: %w", err)
	}

	return rec, nil
}

// CreateCredential creates a new credential record
func (s *SQLiteStore) CreateCredential(ctx context.Context, rec *CredentialRecord) error {
	query := `
		INSERT INTO credentials (
			id, owner, service_type, name, encrypted_payload, tags, reusable,
			shared_with, usage_count, last_used_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Owner,
		rec.ServiceType,
		rec.Name,
		rec.EncryptedPayload,
		rec.Tags,
		rec.Reusable,
		rec.SharedWith,
		rec.UsageCount,
		rec.LastUsedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// GetCredential retrieves a credential by ID
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*CredentialRecord, error) {
	return s.getCredential(ctx, "id = ?", id)
}

// GetCredentialByName retrieves a credential by its logical identity
func (s *SQLiteStore) GetCredentialByName(ctx context.Context, owner, serviceType, name string) (*CredentialRecord, error) {
	return s.getCredential(ctx, "owner = ? AND service_type = ? AND name = ?", owner, serviceType, name)
}

func (s *SQLiteStore) getCredential(ctx context.Context, where string, args ...interface{}) (*CredentialRecord, error) {
	query := `
		SELECT id, owner, service_type, name, encrypted_payload, tags, reusable,
			   shared_with, usage_count, last_used_at, created_at, updated_at
		FROM credentials
		WHERE ` + where

	rec := &CredentialRecord{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID,
		&rec.Owner,
		&rec.ServiceType,
		&rec.Name,
		&rec.EncryptedPayload,
		&rec.Tags,
		&rec.Reusable,
		&rec.SharedWith,
		&rec.UsageCount,
		&rec.LastUsedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credential: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return rec, nil
}

// ListCredentials lists all credentials owned by a user
func (s *SQLiteStore) ListCredentials(ctx context.Context, owner string) ([]*CredentialRecord, error) {
	query := `
		SELECT id, owner, service_type, name, encrypted_payload, tags, reusable,
			   shared_with, usage_count, last_used_at, created_at, updated_at
		FROM credentials
		WHERE owner = ?
		ORDER BY service_type ASC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	recs := []*CredentialRecord{}
	for rows.Next() {
		rec := &CredentialRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Owner,
			&rec.ServiceType,
			&rec.Name,
			&rec.EncryptedPayload,
			&rec.Tags,
			&rec.Reusable,
			&rec.SharedWith,
			&rec.UsageCount,
			&rec.LastUsedAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return recs, nil
}

// UpdateCredential updates a credential in place
func (s *SQLiteStore) UpdateCredential(ctx context.Context, rec *CredentialRecord) error {
	query := `
		UPDATE credentials
		SET encrypted_payload = ?, tags = ?, reusable = ?, shared_with = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.EncryptedPayload,
		rec.Tags,
		rec.Reusable,
		rec.SharedWith,
		time.Now().UTC(),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential %s: %w", rec.ID, ErrNotFound)
	}

	return nil
}

// DeleteCredential deletes a credential by ID
func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	query := `DELETE FROM credentials WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}

	return nil
}

// TouchCredential increments the usage counter and records last use
func (s *SQLiteStore) TouchCredential(ctx context.Context, id string, usedAt time.Time) error {
	query := `UPDATE credentials SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}

	return nil
}

// CreateApprovalRequest creates a new approval request
func (s *SQLiteStore) CreateApprovalRequest(ctx context.Context, rec *ApprovalRequestRecord) error {
	query := `
		INSERT INTO approval_requests (
			id, deployment_id, environment, status, required_count, resume_target,
			requested_at, expires_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.DeploymentID,
		rec.Environment,
		rec.Status,
		rec.RequiredCount,
		rec.ResumeTarget,
		rec.RequestedAt,
		rec.ExpiresAt,
		rec.ResolvedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}

	return nil
}

// GetApprovalRequest retrieves an approval request by ID
func (s *SQLiteStore) GetApprovalRequest(ctx context.Context, id string) (*ApprovalRequestRecord, error) {
	return s.getApprovalRequest(ctx, "id = ?", id)
}

// GetPendingApprovalForDeployment retrieves the pending approval round for a
// deployment, if any.
func (s *SQLiteStore) GetPendingApprovalForDeployment(ctx context.Context, deploymentID string) (*ApprovalRequestRecord, error) {
	return s.getApprovalRequest(ctx, "deployment_id = ? AND status = 'pending'", deploymentID)
}

func (s *SQLiteStore) getApprovalRequest(ctx context.Context, where string, args ...interface{}) (*ApprovalRequestRecord, error) {
	query := `
		SELECT id, deployment_id, environment, status, required_count, resume_target,
			   requested_at, expires_at, resolved_at
		FROM approval_requests
		WHERE ` + where

	rec := &ApprovalRequestRecord{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID,
		&rec.DeploymentID,
		&rec.Environment,
		&rec.Status,
		&rec.RequiredCount,
		&rec.ResumeTarget,
		&rec.RequestedAt,
		&rec.ExpiresAt,
		&rec.ResolvedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval request: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}

	return rec, nil
}

// ResolveApprovalRequest updates a pending request to a resolved status
func (s *SQLiteStore) ResolveApprovalRequest(ctx context.Context, id string, status ApprovalRequestStatus, resolvedAt time.Time) error {
	query := `
		UPDATE approval_requests
		SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := s.db.ExecContext(ctx, query, status, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("failed to resolve approval request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pending approval request %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListPendingApprovalRequests lists all pending approval requests
func (s *SQLiteStore) ListPendingApprovalRequests(ctx context.Context) ([]*ApprovalRequestRecord, error) {
	query := `
		SELECT id, deployment_id, environment, status, required_count, resume_target,
			   requested_at, expires_at, resolved_at
		FROM approval_requests
		WHERE status = 'pending'
		ORDER BY requested_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approval requests: %w", err)
	}
	defer rows.Close()

	recs := []*ApprovalRequestRecord{}
	for rows.Next() {
		rec := &ApprovalRequestRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.DeploymentID,
			&rec.Environment,
			&rec.Status,
			&rec.RequiredCount,
			&rec.ResumeTarget,
			&rec.RequestedAt,
			&rec.ExpiresAt,
			&rec.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval requests: %w", err)
	}

	return recs, nil
}

// ExpireApprovalRequests expires all pending requests past their deadline
func (s *SQLiteStore) ExpireApprovalRequests(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE approval_requests
		SET status = 'expired', resolved_at = ?
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ?
	`

	result, err := s.db.ExecContext(ctx, query, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approval requests: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendApprovalDecision appends one approver's decision. The unique
// (request_id, approver_id) constraint rejects duplicate decisions.
func (s *SQLiteStore) AppendApprovalDecision(ctx context.Context, rec *ApprovalDecisionRecord) error {
	query := `
		INSERT INTO approval_decisions (request_id, deployment_id, approver_id, decision, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.DeploymentID,
		rec.ApproverID,
		rec.Decision,
		rec.Comment,
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append approval decision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get approval decision ID: %w", err)
	}

	rec.ID = id
	return nil
}

// ListApprovalDecisions lists all decisions for an approval request
func (s *SQLiteStore) ListApprovalDecisions(ctx context.Context, requestID string) ([]*ApprovalDecisionRecord, error) {
	query := `
		SELECT id, request_id, deployment_id, approver_id, decision, comment, created_at
		FROM approval_decisions
		WHERE request_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval decisions: %w", err)
	}
	defer rows.Close()

	recs := []*ApprovalDecisionRecord{}
	for rows.Next() {
		rec := &ApprovalDecisionRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.DeploymentID,
			&rec.ApproverID,
			&rec.Decision,
			&rec.Comment,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval decision: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval decisions: %w", err)
	}

	return recs, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, deployment_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.DeploymentID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, deployment_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.DeploymentID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
