package domain

// Member is one roster entry. Exactly one member of a session has IsHub set.
type Member struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name"`
	IsHub    bool          `json:"isHub"`
	IsOnline bool          `json:"isOnline"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id ParticipantID, name string, hub bool) Member {
	return Member{ID: id, Name: name, IsHub: hub, IsOnline: true}
}
