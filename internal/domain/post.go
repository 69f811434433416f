package domain

import "encoding/json"

type PostType string

const (
	PostTypeContent         PostType = "content"
	PostTypeProfileUpdate   PostType = "profile_update"
	PostTypePostDeletion    PostType = "post_deletion"
	PostTypeKeyChange       PostType = "key_change"
	PostTypeAccountDeletion PostType = "account_deletion"
)

// Post is one entry in a user's append-only signed log. Ids are 1-based and
// gap-free; the id of a post equals the profile's postCount at creation time.
type Post struct {
	ID        int64        `json:"id"`
	PostType  PostType     `json:"postType,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Content   *PostContent `json:"content,omitempty"`
	Deleted   bool         `json:"deleted,omitempty"`
}

// PostContent is the variant payload of a post. Which fields are required
// depends on PostType: content posts need text+timestamp, post deletions
// need deletedPostId, key changes need oldPublicKey.
type PostContent struct {
	Text          string `json:"text,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	Location      string `json:"location,omitempty"`
	DeletedPostID int64  `json:"deletedPostId,omitempty"`
	OldPublicKey  string `json:"oldPublicKey,omitempty"`
}

// Tombstone is the stripped shape a deleted content post is reduced to.
// It keeps the post's position in the sequence and nothing else.
func Tombstone(id int64) Post {
	return Post{ID: id, Deleted: true}
}

// IsTombstone reports whether the post carries only {id, deleted:true}.
func (p *Post) IsTombstone() bool {
	return p.Deleted && p.PostType == "" && p.Signature == "" && p.Content == nil
}

// SigningPayload returns the bytes covered by the post's signature:
// the JSON form of the post with the signature field blanked.
func (p *Post) SigningPayload() []byte {
	c := *p
	c.Signature = ""
	data, _ := json.Marshal(&c)
	return data
}

func (p *Post) Clone() *Post {
	c := *p
	if p.Content != nil {
		cc := *p.Content
		c.Content = &cc
	}
	return &c
}
