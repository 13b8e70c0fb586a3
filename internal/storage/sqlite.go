package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"kino_bot/internal/model"
	"kino_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// ErrNoPosts is returned when a code is saved without any post.
var ErrNoPosts = errors.New("code must reference at least one post")

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListAdmins returns all admins ordered by creation.
func (s *SQLite) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, created_at FROM admins ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var admins []model.Admin
	for rows.Next() {
		var a model.Admin
		var created string
		if err := rows.Scan(&a.ID, &a.Username, &created); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		a.CreatedAt, _ = time.Parse(timeLayout, created)
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

// IsAdmin reports whether id belongs to an admin.
func (s *SQLite) IsAdmin(ctx context.Context, id int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return count > 0, nil
}

// CreateAdmin inserts a new admin. It returns ErrAlreadyExists when the
// admin is already present.
func (s *SQLite) CreateAdmin(ctx context.Context, a *model.Admin) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO admins (id, username, created_at) VALUES (?, ?, ?)`,
		a.ID, a.Username, now,
	)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	if err := expectInserted(res); err != nil {
		return err
	}
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DeleteAdmin removes an admin by ID.
func (s *SQLite) DeleteAdmin(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete admin: %w", err)
	}
	return expectAffected(res)
}

// ListChannels returns the mandatory channels in the order they were added.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, name, username, created_at FROM channels ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

// GetChannel returns a single channel by its chat ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, username, created_at FROM channels WHERE chat_id = ?`, id,
	)
	return scanChannel(row)
}

// CreateChannel appends a mandatory channel. It returns ErrAlreadyExists
// when the chat is already configured.
func (s *SQLite) CreateChannel(ctx context.Context, c *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channels (chat_id, name, username, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Username, now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	if err := expectInserted(res); err != nil {
		return err
	}
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DeleteChannel removes a mandatory channel. Users and subscription records
// are left untouched.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE chat_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return expectAffected(res)
}

// GetCode looks a code up case-insensitively.
func (s *SQLite) GetCode(ctx context.Context, code string) (*model.Code, error) {
	var c model.Code
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, created_at FROM codes WHERE code_key = ?`, model.CodeKey(code),
	).Scan(&c.ID, &c.Code, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan code: %w", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id FROM code_posts WHERE code_id = ? ORDER BY position`, c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query code posts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var postID int
		if err := rows.Scan(&postID); err != nil {
			return nil, fmt.Errorf("scan code post: %w", err)
		}
		c.PostIDs = append(c.PostIDs, postID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCodes returns all codes with their posts, ordered by creation.
func (s *SQLite) ListCodes(ctx context.Context) ([]model.Code, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.code, c.created_at, p.post_id
		 FROM codes c LEFT JOIN code_posts p ON p.code_id = c.id
		 ORDER BY c.id, p.position`,
	)
	if err != nil {
		return nil, fmt.Errorf("query codes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var codes []model.Code
	for rows.Next() {
		var (
			id      int64
			code    string
			created string
			postID  sql.NullInt64
		)
		if err := rows.Scan(&id, &code, &created, &postID); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		if len(codes) == 0 || codes[len(codes)-1].ID != id {
			c := model.Code{ID: id, Code: code}
			c.CreatedAt, _ = time.Parse(timeLayout, created)
			codes = append(codes, c)
		}
		if postID.Valid {
			last := &codes[len(codes)-1]
			last.PostIDs = append(last.PostIDs, int(postID.Int64))
		}
	}
	return codes, rows.Err()
}

// CreateCode inserts a code with its ordered posts. It returns
// ErrAlreadyExists when a code with the same case-insensitive key exists.
func (s *SQLite) CreateCode(ctx context.Context, c *model.Code) error {
	if len(c.PostIDs) == 0 {
		return ErrNoPosts
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO codes (code, code_key, created_at) VALUES (?, ?, ?)`,
		c.Code, model.CodeKey(c.Code), now,
	)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	if err := expectInserted(res); err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	if err := insertPosts(ctx, tx, id, c.PostIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	c.ID = id
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// UpdateCodePosts replaces the posts of an existing code.
func (s *SQLite) UpdateCodePosts(ctx context.Context, code string, postIDs []int) error {
	if len(postIDs) == 0 {
		return ErrNoPosts
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := codeID(ctx, tx, code)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM code_posts WHERE code_id = ?`, id); err != nil {
		return fmt.Errorf("delete code posts: %w", err)
	}
	if err := insertPosts(ctx, tx, id, postIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteCode removes a code and its posts.
func (s *SQLite) DeleteCode(ctx context.Context, code string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := codeID(ctx, tx, code)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM code_posts WHERE code_id = ?`, id); err != nil {
		return fmt.Errorf("delete code posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM codes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	return tx.Commit()
}

// TouchUser records an interaction. New users are inserted; known users get
// their profile refreshed and their last activity moved forward, never back.
func (s *SQLite) TouchUser(ctx context.Context, u *model.User) error {
	at := u.LastActivity
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, full_name, username, first_seen, last_activity)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   full_name = excluded.full_name,
		   username = excluded.username,
		   last_activity = MAX(users.last_activity, excluded.last_activity)`,
		u.ID, u.FullName, u.Username, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser returns a single user by ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, username, phone, first_seen, last_activity FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

// SetUserPhone stores the phone number a user shared.
func (s *SQLite) SetUserPhone(ctx context.Context, id int64, phone string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET phone = ? WHERE id = ?`, phone, id)
	if err != nil {
		return fmt.Errorf("update phone: %w", err)
	}
	return expectAffected(res)
}

// ListUsers returns all users ordered by first interaction.
func (s *SQLite) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name, username, phone, first_seen, last_activity FROM users ORDER BY first_seen, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SaveSubscription upserts the subscription record of a user.
func (s *SQLite) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	at := sub.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, subscribed, checked_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET subscribed = excluded.subscribed, checked_at = excluded.checked_at`,
		sub.UserID, boolToInt(sub.Subscribed), at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the subscription record of a user.
func (s *SQLite) GetSubscription(ctx context.Context, userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	var subscribed int
	var checked string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, subscribed, checked_at FROM subscriptions WHERE user_id = ?`, userID,
	).Scan(&sub.UserID, &subscribed, &checked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Subscribed = subscribed == 1
	sub.CheckedAt, _ = time.Parse(timeLayout, checked)
	return &sub, nil
}

// Stats counts users, codes, channels and admins. Users whose last activity
// is at or after since are reported as active.
func (s *SQLite) Stats(ctx context.Context, since time.Time) (*model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM users),
		   (SELECT COUNT(*) FROM users WHERE last_activity >= ?),
		   (SELECT COUNT(*) FROM subscriptions WHERE subscribed = 1),
		   (SELECT COUNT(*) FROM codes),
		   (SELECT COUNT(*) FROM channels),
		   (SELECT COUNT(*) FROM admins)`,
		since.UTC().Format(timeLayout),
	).Scan(&st.Users, &st.ActiveToday, &st.Subscribed, &st.Codes, &st.Channels, &st.Admins)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

func codeID(ctx context.Context, tx *sql.Tx, code string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM codes WHERE code_key = ?`, model.CodeKey(code)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("find code: %w", err)
	}
	return id, nil
}

func insertPosts(ctx context.Context, tx *sql.Tx, codeID int64, postIDs []int) error {
	for i, postID := range postIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO code_posts (code_id, position, post_id) VALUES (?, ?, ?)`,
			codeID, i, postID,
		); err != nil {
			return fmt.Errorf("insert code post: %w", err)
		}
	}
	return nil
}

func expectInserted(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var c model.Channel
	var created string
	if err := row.Scan(&c.ID, &c.Name, &c.Username, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return &c, nil
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var phone sql.NullString
	var firstSeen, lastActivity string
	if err := row.Scan(&u.ID, &u.FullName, &u.Username, &phone, &firstSeen, &lastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Phone = phone.String
	u.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	u.LastActivity, _ = time.Parse(timeLayout, lastActivity)
	return &u, nil
}
