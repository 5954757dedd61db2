package syncmodel

import "encoding/json"

// Content is a user content item (note, link, image reference, ...).
type Content struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Title     string `json:"title,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	UserID    string `json:"user_id"`
}

type Tag struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	UserID string `json:"user_id"`
}

// ContentTag links a content row to a tag row. Its entity id on the wire is
// "contentID:tagID".
type ContentTag struct {
	ContentID string `json:"content_id"`
	TagID     string `json:"tag_id"`
	UserID    string `json:"user_id"`
}

// Node is a graph node. Metadata carries renderer-specific fields opaquely.
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	UserID   string          `json:"user_id"`
}

type Edge struct {
	ID           string `json:"id"`
	FromNode     string `json:"from_node"`
	ToNode       string `json:"to_node"`
	RelationType string `json:"relation_type"`
	UserID       string `json:"user_id"`
}

// ContentTagID builds the composite wire id for a content-tag link.
func ContentTagID(contentID, tagID string) string {
	return contentID + ":" + tagID
}
