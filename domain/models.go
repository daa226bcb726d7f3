package domain

import "time"

type User struct {
	ID             string         `json:"id"`
	ExternalUserID string         `json:"external_user_id"`
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	Name           string         `json:"name,omitempty"`
	Image          string         `json:"image,omitempty"`
	Title          string         `json:"title,omitempty"`
	Division       string         `json:"division,omitempty"`
	Role           string         `json:"role"` // ADMIN, LEADER, MEMBER
	IsActive       bool           `json:"is_active"`
	IsLeader       bool           `json:"is_leader"`
	Settings       map[string]any `json:"settings,omitempty"`
	LastSyncedAt   *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Conversation struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"` // dm, group
	Name            *string    `json:"name,omitempty"`
	AvatarURL       *string    `json:"avatar_url,omitempty"`
	AvatarObjectKey *string    `json:"-"`
	CreatedBy       *string    `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"-"`
}

type ConversationMember struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           string     `json:"role"` // admin, member
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	IsMuted        bool       `json:"is_muted"`
	MuteUntil      *time.Time `json:"mute_until,omitempty"`
	User           *User      `json:"user,omitempty"`
}

type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversation_id"`
	SenderID          string         `json:"sender_id"`
	Content           string         `json:"content,omitempty"`
	Type              string         `json:"type"` // TEXT, IMAGE, FILE, VOICE, POLL, CALL, SYSTEM
	Metadata          map[string]any `json:"metadata,omitempty"`
	ReplyToID         *string        `json:"reply_to_id,omitempty"`
	IsEdited          bool           `json:"is_edited"`
	SequenceNumber    int64          `json:"sequence_number"`
	Encrypted         bool           `json:"encrypted"`
	EncryptionVersion *int           `json:"encryption_version,omitempty"`
	SenderKeyID       *string        `json:"sender_key_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         *time.Time     `json:"updated_at,omitempty"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty"`
}

// Deleted reports whether the message was deleted for everyone and should
// render as a tombstone.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

type MessageStatus struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"` // sent, delivered, read
	Timestamp time.Time `json:"timestamp"`
}

type MessageReaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type UserDeletedMessage struct {
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type UserBlock struct {
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Poll struct {
	ID             string     `json:"id"`
	MessageID      string     `json:"message_id"`
	Question       string     `json:"question"`
	MultipleChoice bool       `json:"multiple_choice"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type PollOption struct {
	ID         string `json:"id"`
	PollID     string `json:"poll_id"`
	OptionText string `json:"option_text"`
	Position   int    `json:"position"`
}

type PollVote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationPreferences struct {
	UserID          string         `json:"user_id"`
	MessagesEnabled bool           `json:"messages_enabled"`
	MentionsOnly    bool           `json:"mentions_only"`
	SoundEnabled    bool           `json:"sound_enabled"`
	Settings        map[string]any `json:"settings,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type MutedConversation struct {
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	MutedAt        time.Time  `json:"muted_at"`
	MuteUntil      *time.Time `json:"mute_until,omitempty"`
}

// ConversationView is a conversation enriched for a particular viewer.
type ConversationView struct {
	Conversation
	DisplayName string                `json:"display_name"`
	Members     []*ConversationMember `json:"members,omitempty"`
	Creator     *User                 `json:"creator,omitempty"`
	LastMessage *Message              `json:"last_message,omitempty"`
	UnreadCount int                   `json:"unread_count"`
}

// MessageView is a message enriched with sender profile, reactions, and the
// status the viewer should see (their own row, or the aggregate for the sender).
type MessageView struct {
	Message
	Sender    *User              `json:"sender,omitempty"`
	Reactions []*MessageReaction `json:"reactions,omitempty"`
	Status    string             `json:"status,omitempty"`
}

// PollView is a poll with per-option tallies and the viewer's selections.
type PollView struct {
	Poll
	Options    []*PollOptionView `json:"options"`
	TotalVotes int               `json:"total_votes"`
	UserVotes  []string          `json:"user_votes"`
	Closed     bool              `json:"closed"`
}

type PollOptionView struct {
	PollOption
	VoteCount int      `json:"vote_count"`
	Voters    []string `json:"voters,omitempty"`
}

const (
	ConversationTypeDM    = "dm"
	ConversationTypeGroup = "group"
)

const (
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

const (
	UserRoleAdmin  = "ADMIN"
	UserRoleLeader = "LEADER"
	UserRoleMember = "MEMBER"
)

const (
	MessageTypeText   = "TEXT"
	MessageTypeImage  = "IMAGE"
	MessageTypeFile   = "FILE"
	MessageTypeVoice  = "VOICE"
	MessageTypePoll   = "POLL"
	MessageTypeCall   = "CALL"
	MessageTypeSystem = "SYSTEM"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// System message actions carried in Message.Metadata["action"].
const (
	SystemMemberAdded         = "member_added"
	SystemMemberRemoved       = "member_removed"
	SystemMemberLeft          = "member_left"
	SystemConversationUpdated = "conversation_updated"
)

// AggregateStatus derives the single status a sender sees from recipient
// tallies: sent while any recipient is still sent, read once all have read,
// delivered in between.
func AggregateStatus(sent, delivered, read int) string {
	switch {
	case sent > 0:
		return StatusSent
	case delivered > 0:
		return StatusDelivered
	default:
		return StatusRead
	}
}

// StatusRank orders delivery states for monotonic transitions.
// Unknown states rank lowest so they never overwrite a known one.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}
