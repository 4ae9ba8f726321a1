package server

import (
	"encoding/xml"
	"log"
	"net/http"
	"time"
)

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate,omitempty"`
	GUID        string `xml:"guid,omitempty"`
}

// handleRSS serves the most recent articles as an RSS 2.0 feed.
func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.RecentArticles(20)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]rssItem, 0, len(rows))
	for _, row := range rows {
		item := rssItem{
			Title: row.Title,
			Link:  row.URL,
			GUID:  row.URL,
		}
		if row.Summary != nil {
			item.Description = *row.Summary
		}
		if row.CreatedAt != nil {
			item.PubDate = rssDate(*row.CreatedAt)
		}
		items = append(items, item)
	}

	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "NewsWave",
			Link:        s.cfg.ServerURL(),
			Description: "AI-powered news summaries",
			Items:       items,
		},
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}
	if err := xml.NewEncoder(w).Encode(feed); err != nil {
		log.Printf("Encoding RSS feed: %v", err)
	}
}

// rssDate converts a SQLite timestamp to the RFC 1123 form RSS readers
// expect. Unparseable values pass through unchanged.
func rssDate(s string) string {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC1123Z)
}
