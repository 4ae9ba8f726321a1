package database

import (
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const articleColumns = "id, url, title, source, summary, content, published_at, created_at, updated_at"

// InsertArticle inserts an article. Returns the ID on success, 0 if the
// URL is already indexed. Re-running a collection is never an error.
func (db *DB) InsertArticle(url, title string, source, summary, content, publishedAt *string) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO articles (url, title, source, summary, content, published_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		url, title, source, summary, content, publishedAt,
	)
	if err != nil {
		// Duplicate URL constraint
		return 0, nil //nolint: nilerr
	}
	return result.LastInsertId()
}

// UpdateArticleSummary replaces an article's summary and content.
func (db *DB) UpdateArticleSummary(articleID int64, summary, content *string) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET summary = ?, content = ?, updated_at = datetime('now') WHERE id = ?",
		summary, content, articleID,
	)
	return err
}

// GetArticleByID returns a single article by ID, or nil if absent.
func (db *DB) GetArticleByID(articleID int64) (*Article, error) {
	row := db.conn.QueryRow(
		"SELECT "+articleColumns+" FROM articles WHERE id = ?", articleID,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetArticleByURL returns a single article by URL, or nil if absent.
func (db *DB) GetArticleByURL(url string) (*Article, error) {
	row := db.conn.QueryRow(
		"SELECT "+articleColumns+" FROM articles WHERE url = ?", url,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RecentArticles returns the newest articles, up to limit.
func (db *DB) RecentArticles(limit int) ([]Article, error) {
	query, args, err := sq.Select(articleColumns).
		From("articles").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// SearchArticles returns articles whose title or summary contains the
// query, newest first. Matching is a case-insensitive substring test,
// the same check the immediate search wave serves from the index.
func (db *DB) SearchArticles(searchQuery string, limit int) ([]Article, error) {
	pattern := "%" + strings.ToLower(searchQuery) + "%"

	query, args, err := sq.Select(articleColumns).
		From("articles").
		Where(sq.Or{
			sq.Like{"LOWER(title)": pattern},
			sq.Like{"LOWER(summary)": pattern},
		}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// ExistingURLs reports which of the given URLs are already indexed.
func (db *DB) ExistingURLs(urls []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(urls) == 0 {
		return existing, nil
	}

	// Chunk to stay clear of the SQLite bound-parameter limit.
	const chunkSize = 500
	for start := 0; start < len(urls); start += chunkSize {
		end := start + chunkSize
		if end > len(urls) {
			end = len(urls)
		}
		chunk := urls[start:end]

		query, args, err := sq.Select("url").
			From("articles").
			Where(sq.Eq{"url": chunk}).
			ToSql()
		if err != nil {
			return nil, err
		}

		rows, err := db.conn.Query(query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var url string
			if err := rows.Scan(&url); err != nil {
				rows.Close()
				return nil, err
			}
			existing[url] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return existing, nil
}

// CountArticles returns the number of indexed articles.
func (db *DB) CountArticles() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count)
	return count, err
}

// GetStats returns aggregate index statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM articles").Scan(&s.TotalArticles); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM articles WHERE summary IS NOT NULL AND summary != ''",
	).Scan(&s.Summarized); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(
		"SELECT COUNT(DISTINCT source) FROM articles WHERE source IS NOT NULL",
	).Scan(&s.Sources); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM search_history").Scan(&s.Searches); err != nil {
		return nil, err
	}
	return s, nil
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.Summary,
			&a.Content, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.Summary,
		&a.Content, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
