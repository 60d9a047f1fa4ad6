package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

// Payload is the decrypted credential content, field name to value.
type Payload map[string]string

// Credential is the metadata view of a stored credential. It never carries
// plaintext; Decrypt is the only way to read the payload.
type Credential struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	ServiceType string     `json:"service_type"`
	Name        string     `json:"name"`
	Tags        []string   `json:"tags"`
	Reusable    bool       `json:"reusable"`
	SharedWith  []string   `json:"shared_with"`
	UsageCount  int64      `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ErrAccessDenied is returned when a user is neither the owner of a
// credential nor on its share list.
var ErrAccessDenied = fmt.Errorf("credential access denied")

// Manager provides access-controlled credential storage.
type Manager struct {
	store   stores.Store
	cipher  *Cipher
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewManager creates a credential manager.
func NewManager(store stores.Store, cipher *Cipher, logger *telemetry.Logger, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		store:   store,
		cipher:  cipher,
		logger:  logger.NewComponentLogger("credentials"),
		metrics: metrics,
	}
}

// Save encrypts and stores a new credential owned by owner.
func (m *Manager) Save(ctx context.Context, owner, serviceType, name string, payload Payload, tags []string, reusable bool) (*Credential, error) {
	if owner == "" || serviceType == "" || name == "" {
		return nil, fmt.Errorf("owner, service type, and name are required")
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("credential payload is empty")
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ciphertext, err := m.cipher.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	tagsJSON, err := json.Marshal(tagsOrEmpty(tags))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	now := time.Now().UTC()
	rec := &stores.CredentialRecord{
		ID:               uuid.New().String(),
		Owner:            owner,
		ServiceType:      serviceType,
		Name:             name,
		EncryptedPayload: ciphertext,
		Tags:             string(tagsJSON),
		Reusable:         reusable,
		SharedWith:       "[]",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.store.CreateCredential(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	m.audit(ctx, "credential.created", owner, rec.ID, serviceType)
	m.logger.WithField("credential_id", rec.ID).
		WithServiceType(serviceType).
		Info("credential stored")

	return recordToCredential(rec)
}

// Get returns credential metadata if user has access. Plaintext is never
// included.
func (m *Manager) Get(ctx context.Context, user, id string) (*Credential, error) {
	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(rec, user); err != nil {
		return nil, err
	}
	return recordToCredential(rec)
}

// Decrypt returns the plaintext payload if user has access. Every decrypt
// increments the usage counter and leaves an audit entry.
func (m *Manager) Decrypt(ctx context.Context, user, id string) (Payload, error) {
	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(rec, user); err != nil {
		return nil, err
	}

	plaintext, err := m.cipher.Open(rec.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential %s: %w", id, err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if err := m.store.TouchCredential(ctx, id, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to record credential use: %w", err)
	}

	m.audit(ctx, "credential.read", user, id, rec.ServiceType)
	if m.metrics != nil {
		m.metrics.RecordCredentialRead(rec.ServiceType)
	}

	return payload, nil
}

// List returns metadata for all credentials owned by owner. This never
// touches ciphertext.
func (m *Manager) List(ctx context.Context, owner string) ([]*Credential, error) {
	recs, err := m.store.ListCredentials(ctx, owner)
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(recs))
	for _, rec := range recs {
		cred, err := recordToCredential(rec)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// Share grants another user decrypt access. Only the owner can share.
func (m *Manager) Share(ctx context.Context, owner, id, grantee string) error {
	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	if rec.Owner != owner {
		return fmt.Errorf("only the owner can share credential %s: %w", id, ErrAccessDenied)
	}

	var shared []string
	if err := json.Unmarshal([]byte(rec.SharedWith), &shared); err != nil {
		return fmt.Errorf("failed to unmarshal share list: %w", err)
	}
	for _, u := range shared {
		if u == grantee {
			return nil // already shared
		}
	}
	shared = append(shared, grantee)

	sharedJSON, err := json.Marshal(shared)
	if err != nil {
		return fmt.Errorf("failed to marshal share list: %w", err)
	}
	rec.SharedWith = string(sharedJSON)

	if err := m.store.UpdateCredential(ctx, rec); err != nil {
		return err
	}

	m.audit(ctx, "credential.shared", owner, id, rec.ServiceType)
	return nil
}

// Rotate replaces the payload of an existing credential. Only the owner
// can rotate.
func (m *Manager) Rotate(ctx context.Context, owner, id string, payload Payload) error {
	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	if rec.Owner != owner {
		return fmt.Errorf("only the owner can rotate credential %s: %w", id, ErrAccessDenied)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	ciphertext, err := m.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}
	rec.EncryptedPayload = ciphertext

	if err := m.store.UpdateCredential(ctx, rec); err != nil {
		return err
	}

	m.audit(ctx, "credential.rotated", owner, id, rec.ServiceType)
	return nil
}

// Delete removes a credential. Only the owner can delete.
func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	if rec.Owner != owner {
		return fmt.Errorf("only the owner can delete credential %s: %w", id, ErrAccessDenied)
	}

	if err := m.store.DeleteCredential(ctx, id); err != nil {
		return err
	}

	m.audit(ctx, "credential.deleted", owner, id, rec.ServiceType)
	return nil
}

// FindReusable looks up a reusable credential for the given service type,
// preferring the user's own credentials.
func (m *Manager) FindReusable(ctx context.Context, user, serviceType string) (*Credential, error) {
	recs, err := m.store.ListCredentials(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.ServiceType == serviceType && rec.Reusable {
			return recordToCredential(rec)
		}
	}
	return nil, fmt.Errorf("no reusable %s credential for %s: %w", serviceType, user, stores.ErrNotFound)
}

func (m *Manager) audit(ctx context.Context, action, actor, credentialID, serviceType string) {
	details, _ := json.Marshal(map[string]string{
		"credential_id": credentialID,
		"service_type":  serviceType,
	})
	detailsStr := string(details)
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     actor,
		Details:   &detailsStr,
		Timestamp: time.Now().UTC(),
	}
	if err := m.store.CreateAuditEntry(ctx, entry); err != nil {
		m.logger.WithError(err).Warn("failed to write audit entry")
	}
}

func checkAccess(rec *stores.CredentialRecord, user string) error {
	if rec.Owner == user {
		return nil
	}
	var shared []string
	if err := json.Unmarshal([]byte(rec.SharedWith), &shared); err != nil {
		return fmt.Errorf("failed to unmarshal share list: %w", err)
	}
	for _, u := range shared {
		if u == user {
			return nil
		}
	}
	return fmt.Errorf("user %s cannot access credential %s: %w", user, rec.ID, ErrAccessDenied)
}

func recordToCredential(rec *stores.CredentialRecord) (*Credential, error) {
	var tags, shared []string
	if err := json.Unmarshal([]byte(rec.Tags), &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.SharedWith), &shared); err != nil {
		return nil, fmt.Errorf("failed to unmarshal share list: %w", err)
	}
	return &Credential{
		ID:          rec.ID,
		Owner:       rec.Owner,
		ServiceType: rec.ServiceType,
		Name:        rec.Name,
		Tags:        tags,
		Reusable:    rec.Reusable,
		SharedWith:  shared,
		UsageCount:  rec.UsageCount,
		LastUsedAt:  rec.LastUsedAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
