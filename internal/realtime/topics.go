package realtime

// Send destinations
const (
	DestLocation            = "/app/location"
	DestAddFavoritePlace    = "/app/addFavoritePlace"
	DestEditFavoritePlace   = "/app/editFavoritePlace"
	DestDeleteFavoritePlace = "/app/deleteFavoritePlace"
)

// Topic is one of the per-group broadcast topics.
type Topic int

const (
	TopicLocation Topic = iota
	TopicFavoritePlaceAdded
	TopicFavoritePlaceEdited
	TopicFavoritePlaceDeleted

	topicCount
)

// Topics lists every topic a manager can hold a subscription for.
var Topics = []Topic{
	TopicLocation,
	TopicFavoritePlaceAdded,
	TopicFavoritePlaceEdited,
	TopicFavoritePlaceDeleted,
}

var topicPrefixes = [topicCount]string{
	TopicLocation:             "/topic/location/",
	TopicFavoritePlaceAdded:   "/topic/favoritePlace/",
	TopicFavoritePlaceEdited:  "/topic/favoritePlaceEdited/",
	TopicFavoritePlaceDeleted: "/topic/favoritePlaceDeleted/",
}

// Destination returns the topic's STOMP destination for groupID.
func (t Topic) Destination(groupID string) string {
	if t < 0 || t >= topicCount {
		return ""
	}
	return topicPrefixes[t] + groupID
}

func (t Topic) String() string {
	switch t {
	case TopicLocation:
		return "location"
	case TopicFavoritePlaceAdded:
		return "favoritePlaceAdded"
	case TopicFavoritePlaceEdited:
		return "favoritePlaceEdited"
	case TopicFavoritePlaceDeleted:
		return "favoritePlaceDeleted"
	default:
		return "unknown"
	}
}
