package model

import "time"

/*

Post is a data model for a feed item, as stored in the "posts" collection.

Id: primary key, document id in the posts collection
UserId: author's account id, "belongs-to" relation
ImageUrl: the photo attached to this post
Caption: caption text, can be empty
Likes/Comments/Shares: denormalized counters maintained by the backend
Timestamp: creation time, the feed orders on this field descending

Liked and Saved are per-viewer overlays. They live only in the local process
and are never written back to the posts collection.

*/

type Post struct {
	Id        string    `json:"id"`
	UserId    string    `json:"userId"`
	ImageUrl  string    `json:"imageUrl"`
	Caption   string    `json:"caption"`
	Likes     int       `json:"likes"`
	Comments  int       `json:"comments"`
	Shares    int       `json:"shares"`
	Timestamp time.Time `json:"timestamp"`
	Liked     bool      `json:"liked"`
	Saved     bool      `json:"saved"`
}

// Ref returns the slim profile-record reference for this post.
func (p Post) Ref() PostRef {
	return PostRef{Id: p.Id, ImageUrl: p.ImageUrl}
}
