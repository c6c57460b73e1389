package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"inkbook/internal/clock"
	"inkbook/internal/model"
)

type BookStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewBookStore(db *sql.DB, clk clock.Clock) *BookStore {
	return &BookStore{db: db, clock: clk}
}

func scanBook(scanner interface{ Scan(...any) error }) (*model.Book, error) {
	var b model.Book
	var archivedAt sql.NullTime

	err := scanner.Scan(&b.ID, &b.Name, &b.CreatedAt, &archivedAt)
	if err != nil {
		return nil, err
	}
	if archivedAt.Valid {
		b.ArchivedAt = &archivedAt.Time
	}
	return &b, nil
}

const bookCols = `id, name, created_at, archived_at`

func (s *BookStore) Create(name string) (*model.Book, error) {
	id := uuid.NewString()
	now := s.clock.Now()

	_, err := s.db.Exec(
		`INSERT INTO books (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return s.GetByID(id)
}

func (s *BookStore) GetByID(id string) (*model.Book, error) {
	row := s.db.QueryRow(`SELECT `+bookCols+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// List returns books ordered by creation time, optionally including
// archived ones.
func (s *BookStore) List(includeArchived bool) ([]model.Book, error) {
	query := `SELECT ` + bookCols + ` FROM books`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

func (s *BookStore) Archive(id string) error {
	_, err := s.db.Exec(`UPDATE books SET archived_at = ? WHERE id = ?`, s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("archive book: %w", err)
	}
	return nil
}
