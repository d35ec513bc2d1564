package cache

// Cache key families per domain entity. The invalidation dispatch relies on
// these prefixes to perform composite user and post invalidation.

// UserProfileKey returns the cache key for a user's profile.
func UserProfileKey(userID string) string { return "user:profile:" + userID }

// UserPostsKey returns the cache key for a user's posts list.
func UserPostsKey(userID string) string { return "user:posts:" + userID }

// FriendsKey returns the cache key for a user's friends list.
func FriendsKey(userID string) string { return "friends:" + userID }

// FollowersKey returns the cache key for a user's followers list.
func FollowersKey(userID string) string { return "followers:" + userID }

// FollowingKey returns the cache key for a user's following list.
func FollowingKey(userID string) string { return "following:" + userID }

// PostKey returns the cache key for a single post.
func PostKey(postID string) string { return "post:" + postID }

// FeedKey returns the cache key for a feed page.
func FeedKey(cursor string) string { return "feed:" + cursor }

// FeedPattern matches every cached feed page.
const FeedPattern = "feed:*"

// TempPattern matches short-lived scratch entries purged by the cleanup job.
const TempPattern = "temp:*"

// UnreadCountKey returns the cache key of a user's unread notification counter.
func UnreadCountKey(userID string) string { return "unread:" + userID }

// UserKeys returns the full family of cache keys associated with a user.
func UserKeys(userID string) []string {
	return []string{
		UserProfileKey(userID),
		UserPostsKey(userID),
		FriendsKey(userID),
		FollowersKey(userID),
		FollowingKey(userID),
	}
}
