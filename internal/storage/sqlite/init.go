package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the downloads table and its
// indexes if they don't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		lesson_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		course_title TEXT NOT NULL DEFAULT '',
		lesson_title TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL,
		remote_url TEXT NOT NULL,
		local_file_uri TEXT,
		expected_file_size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		progress_percent REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_downloads_lesson_content ON downloads(lesson_id, content_type);
	CREATE INDEX IF NOT EXISTS idx_downloads_course ON downloads(course_id);
	CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
