package db

// migration is one schema step. Every step is idempotent so reopening an
// existing index never fails or loses data.
type migration struct {
	version int
	name    string
	up      string
}

// migrations is the ordered schema history of the cache index.
var migrations = []migration{
	{
		version: 1,
		name:    "create_apod_images",
		up: `
			CREATE TABLE IF NOT EXISTS apod_images (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				explanation TEXT NOT NULL,
				file_path TEXT NOT NULL,
				content_hash TEXT NOT NULL UNIQUE,
				apod_date TEXT NOT NULL DEFAULT '',
				media_type TEXT NOT NULL DEFAULT 'image' CHECK(media_type IN ('image', 'video')),
				source_url TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		version: 2,
		name:    "index_apod_images_date",
		up: `
			CREATE INDEX IF NOT EXISTS idx_apod_images_apod_date ON apod_images(apod_date);
		`,
	},
}

// migrationsTable records which migrations have been applied.
const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Media types accepted by the cache.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Record is one cached APOD image.
type Record struct {
	ID          int64
	Title       string
	Explanation string
	FilePath    string
	ContentHash string

	// Context of the first request that cached the image.
	APODDate  string
	MediaType string
	SourceURL string
	CreatedAt string
}
