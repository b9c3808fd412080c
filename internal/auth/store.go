package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Role is the participant role a connection is established with.
type Role string

const (
	RoleUser      Role = "user"
	RoleDeveloper Role = "developer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleDeveloper
}

// ErrNoCredentials is returned when no credentials have been persisted yet.
var ErrNoCredentials = errors.New("auth: no stored credentials")

// Credentials is the locally persisted identity the core reads at
// connect/initialize time. The token may be rotated by the server at any
// point during a session.
type Credentials struct {
	Token         string    `db:"token"`
	Role          Role      `db:"role"`
	ParticipantID string    `db:"participant_id"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Store persists credentials in a local SQLite database.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (creating if needed) the credential database at path.
func NewStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping credential store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init credential schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		role TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Load returns the stored credentials, or ErrNoCredentials.
func (s *Store) Load() (Credentials, error) {
	var c Credentials
	err := s.db.Get(&c, `SELECT token, role, participant_id, updated_at FROM credentials WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return c, nil
}

// Save writes the full credential set, replacing any previous row.
func (s *Store) Save(c Credentials) error {
	if !c.Role.Valid() {
		return fmt.Errorf("save credentials: invalid role %q", c.Role)
	}
	_, err := s.db.Exec(`
		INSERT INTO credentials (id, token, role, participant_id, updated_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			role = excluded.role,
			participant_id = excluded.participant_id,
			updated_at = CURRENT_TIMESTAMP`,
		c.Token, c.Role, c.ParticipantID)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// RotateToken replaces only the auth token, keeping role and participant id.
// Used when the server pushes a fresh access token mid-session.
func (s *Store) RotateToken(token string) error {
	res, err := s.db.Exec(`UPDATE credentials SET token = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`, token)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoCredentials
	}
	return nil
}

// Clear wipes the stored credentials. Called on logout and on the
// server-pushed blocked signal.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
