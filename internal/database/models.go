package database

// Article is a stored news article. Summary and Content are nullable:
// feed-collected articles carry whatever the feed provided until the
// background pipeline fills them in.
type Article struct {
	ID          int64
	URL         string
	Title       string
	Source      *string
	Summary     *string
	Content     *string
	PublishedAt *string
	CreatedAt   *string
	UpdatedAt   *string
}

// SearchRecord is one entry of the search history.
type SearchRecord struct {
	ID             int64
	Query          string
	TotalImmediate int
	TaskID         *string
	SearchedAt     *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalArticles int
	Summarized    int
	Sources       int
	Searches      int
}
