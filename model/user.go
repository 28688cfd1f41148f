package model

/*

User is a data model for a shutterfeed account profile. It mirrors the
record stored in the "users" collection of the document store, keyed by the
identity provider's account id.

Id: provider-issued account id, stable for the lifetime of the account
Username: unique handle shown with posts
FullName: display name, can be changed freely
Avatar: avatar image URL
Bio: optional biography text
Verified: whether the account carries a verification badge
Followers/Following: denormalized counters maintained by the backend
Posts: ordered references to posts authored by this user

*/

type User struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Avatar    string    `json:"avatar"`
	Bio       string    `json:"bio,omitempty"`
	Verified  bool      `json:"verified"`
	Followers int       `json:"followers"`
	Following int       `json:"following"`
	Posts     []PostRef `json:"posts"`
}

// PostRef is the slim reference kept on the profile record, enough to render
// a profile grid without loading the full post.
type PostRef struct {
	Id       string `json:"id"`
	ImageUrl string `json:"imageUrl"`
}

func (u User) GetID() string        { return u.Id }
func (u User) GetName() string      { return u.FullName }
func (u User) GetAvatarURL() string { return u.Avatar }
