package domain

import "time"

// VideoID is the opaque catalog identifier carried in STREAM:<id>.
type VideoID string

// Video is one catalog entry. Immutable once the catalog is built.
type Video struct {
	ID        VideoID   `json:"id"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	MediaType string    `json:"media_type"`
	Modified  time.Time `json:"modified"`
}

// VideoSummary is the part of a Video that travels in the catalog snapshot.
type VideoSummary struct {
	ID    VideoID `json:"id"`
	Title string  `json:"title"`
	Size  int64   `json:"size"`
}

func (v Video) Summary() VideoSummary {
	return VideoSummary{ID: v.ID, Title: v.Title, Size: v.Size}
}

func (v VideoSummary) String() string {
	return v.Title
}
