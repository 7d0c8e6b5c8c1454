package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/pkg/constants"
	"github.com/username/branchtalk/internal/pkg/dbutil"
)

// Adapter implements the StoragePort interface using SQLite
type Adapter struct {
	db             *sql.DB
	wrapper        *dbutil.Wrapper
	migrationsPath string
}

// NewAdapter creates a new SQLite storage adapter
func NewAdapter(dbPath, migrationsPath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(constants.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(constants.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(constants.DatabaseConnMaxLifetime)

	return &Adapter{
		db:             db,
		wrapper:        dbutil.NewWrapper(db, constants.DatabaseTimeout),
		migrationsPath: migrationsPath,
	}, nil
}

// Migrate runs database migrations
func (a *Adapter) Migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := a.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	files, err := filepath.Glob(filepath.Join(a.migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	sort.Strings(files)

	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), ".sql")
		if applied[version] {
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}
	}

	return nil
}

// Ping checks database connectivity
func (a *Adapter) Ping(ctx context.Context) error {
	return a.wrapper.PingWithTimeout(ctx)
}

// Close closes the database connection
func (a *Adapter) Close() error {
	return a.db.Close()
}

// AppendMessage persists a message and repairs all tree bookkeeping in one
// transaction: sibling versions are renumbered, the parent's active-child
// selector moves to the new message, and the conversation tip follows.
// Concurrent appends under the same parent serialize on the write lock and
// retry on busy, so two siblings can never land on the same version number.
func (a *Adapter) AppendMessage(ctx context.Context, conversation *entities.Conversation, message *entities.Message) error {
	err := a.wrapper.SaveWithRetry(ctx, func(tx *sql.Tx) error {
		var siblings int
		var err error
		if message.ParentID == nil {
			err = tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM messages
				WHERE conversation_id = ? AND parent_id IS NULL AND role = ?
			`, message.ConversationID, string(message.Role)).Scan(&siblings)
		} else {
			err = tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM messages
				WHERE conversation_id = ? AND parent_id = ? AND role = ?
			`, message.ConversationID, *message.ParentID, string(message.Role)).Scan(&siblings)
		}
		if err != nil {
			return fmt.Errorf("failed to count siblings: %w", err)
		}

		version := siblings + 1
		message.CurrentVersion = version
		message.TotalVersions = version

		// Broadcast the new total across the existing sibling set.
		if siblings > 0 {
			if message.ParentID == nil {
				_, err = tx.ExecContext(ctx, `
					UPDATE messages SET total_versions = ?
					WHERE conversation_id = ? AND parent_id IS NULL AND role = ?
				`, version, message.ConversationID, string(message.Role))
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE messages SET total_versions = ?
					WHERE conversation_id = ? AND parent_id = ? AND role = ?
				`, version, message.ConversationID, *message.ParentID, string(message.Role))
			}
			if err != nil {
				return fmt.Errorf("failed to renumber siblings: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, parent_id, active_child_id, current_version, total_versions, created_at)
			VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)
		`,
			message.ID,
			message.ConversationID,
			string(message.Role),
			message.Content,
			message.ParentID,
			version,
			version,
			message.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if message.ParentID != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE messages SET active_child_id = ? WHERE id = ?",
				message.ID, *message.ParentID,
			); err != nil {
				return fmt.Errorf("failed to update active child: %w", err)
			}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE conversations SET current_node_id = ?, updated_at = ? WHERE id = ?",
			message.ID, now, conversation.ID,
		); err != nil {
			return fmt.Errorf("failed to update conversation tip: %w", err)
		}

		conversation.CurrentNodeID = &message.ID
		conversation.UpdatedAt = now
		return nil
	}, constants.DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

// Message operations

func (a *Adapter) GetMessage(ctx context.Context, id string) (*entities.Message, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, role, content, parent_id, active_child_id, current_version, total_versions, created_at
		FROM messages WHERE id = ?
	`, id)

	message, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("message %s: %w", id, entities.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

func (a *Adapter) GetMessages(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, parent_id, active_child_id, current_version, total_versions, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*entities.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

func (a *Adapter) UpdateMessage(ctx context.Context, message *entities.Message) error {
	err := a.wrapper.SaveWithRetry(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET content = ?, active_child_id = ?, current_version = ?, total_versions = ?
			WHERE id = ?
		`,
			message.Content,
			message.ActiveChildID,
			message.CurrentVersion,
			message.TotalVersions,
			message.ID,
		)
		if err != nil {
			return err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("message %s: %w", message.ID, entities.ErrNotFound)
		}
		return nil
	}, constants.DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return nil
}

func (a *Adapter) DeleteMessagesAfter(ctx context.Context, conversationID string, after time.Time) error {
	err := a.wrapper.SaveWithRetry(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM messages WHERE conversation_id = ? AND created_at > ?",
			conversationID, after,
		)
		return err
	}, constants.DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("failed to delete messages after %s: %w", after.Format(time.RFC3339Nano), err)
	}

	return nil
}

// Conversation operations

func (a *Adapter) SaveConversation(ctx context.Context, conversation *entities.Conversation) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, owner_kind, owner_key, current_node_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		conversation.ID,
		conversation.Title,
		string(conversation.Owner.Kind),
		conversation.Owner.Key,
		conversation.CurrentNodeID,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	return nil
}

func (a *Adapter) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, title, owner_kind, owner_key, current_node_id, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	conversation, err := scanConversation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s: %w", id, entities.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conversation, nil
}

func (a *Adapter) GetConversationsByOwner(ctx context.Context, owner entities.Principal, limit int) ([]*entities.Conversation, error) {
	if limit <= 0 {
		limit = constants.DefaultQueryLimit
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, title, owner_kind, owner_key, current_node_id, created_at, updated_at
		FROM conversations
		WHERE owner_kind = ? AND owner_key = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, string(owner.Kind), owner.Key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*entities.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}

	return conversations, rows.Err()
}

func (a *Adapter) UpdateConversation(ctx context.Context, conversation *entities.Conversation) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE conversations
		SET title = ?, current_node_id = ?, updated_at = ?
		WHERE id = ?
	`,
		conversation.Title,
		conversation.CurrentNodeID,
		conversation.UpdatedAt,
		conversation.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return nil
}

func (a *Adapter) DeleteConversation(ctx context.Context, id string) error {
	// Messages cascade via the foreign key constraint
	_, err := a.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(s scanner) (*entities.Message, error) {
	var message entities.Message
	var parentID, activeChildID sql.NullString

	err := s.Scan(
		&message.ID,
		&message.ConversationID,
		&message.Role,
		&message.Content,
		&parentID,
		&activeChildID,
		&message.CurrentVersion,
		&message.TotalVersions,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		message.ParentID = &parentID.String
	}
	if activeChildID.Valid {
		message.ActiveChildID = &activeChildID.String
	}

	return &message, nil
}

func scanConversation(s scanner) (*entities.Conversation, error) {
	var conversation entities.Conversation
	var ownerKind string
	var currentNodeID sql.NullString

	err := s.Scan(
		&conversation.ID,
		&conversation.Title,
		&ownerKind,
		&conversation.Owner.Key,
		&currentNodeID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conversation.Owner.Kind = entities.PrincipalKind(ownerKind)
	if currentNodeID.Valid {
		conversation.CurrentNodeID = &currentNodeID.String
	}

	return &conversation, nil
}
