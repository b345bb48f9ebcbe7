// Package domain defines the persistence models for the licensing-workflow
// messaging core: clients, applications, conversations, messages, per-user
// read receipts, and notifications. These types are mapped with GORM and form
// the core data layer of the inbox backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Role names recognized by the access scoper. Any other role has no
// messaging access at all.
const (
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
	RoleExpert = "expert"
)

// Client represents the legal entity behind one or more license applications.
// Each client is operated by exactly one platform user (the owner).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - OwnerUserID: the platform user who acts on behalf of this client;
//     unique so a user maps to at most one client row.
//   - Name: display name of the client.
type Client struct {
	ID          string         `json:"id"            gorm:"type:char(36);primaryKey"`
	OwnerUserID string         `json:"owner_user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_client_owner"`
	Name        string         `json:"name"          gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for Client.
func (Client) TableName() string { return "clients" }

// Application is a regulatory license application. The messaging core only
// depends on its identity, the owning client, and the assigned expert; the
// remaining workflow state is owned by other subsystems.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ClientID: foreign key to the owning client (indexed).
//   - ExpertID: platform user id of the assigned expert; empty while
//     unassigned (indexed for expert scoping).
//   - LicenseType / Status: workflow metadata carried for display only.
type Application struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	ClientID    string         `json:"client_id"    gorm:"type:char(36);not null;index:idx_app_client"`
	ExpertID    string         `json:"expert_id"    gorm:"type:varchar(64);index:idx_app_expert"`
	LicenseType string         `json:"license_type" gorm:"type:varchar(64)"`
	Status      string         `json:"status"       gorm:"type:varchar(32);not null;default:'draft'"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`

	Client Client `json:"-" gorm:"foreignKey:ClientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Application.
func (Application) TableName() string { return "applications" }

// Conversation is the single discussion thread bound to one application.
// The unique index on ApplicationID is what makes concurrent get-or-create
// converge: the losing inserter hits the constraint and re-reads the winner.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ApplicationID: one conversation per application (unique).
//   - LastMessageAt: bumped on every append, used for inbox ordering.
type Conversation struct {
	ID            string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ApplicationID string         `json:"application_id"  gorm:"type:char(36);not null;uniqueIndex:ux_conversation_application"`
	LastMessageAt time.Time      `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"               gorm:"index"`

	Application Application `json:"-" gorm:"foreignKey:ApplicationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single utterance within a conversation. The content is an
// append-only log entry: it is never edited in place. Who has seen a message
// lives in the message_reads table, not here.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderID       string         `json:"sender_id"       gorm:"type:varchar(64);not null"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MessageRead records that a user has seen a message. Rows are only ever
// inserted, so a message's read-by set is monotonically non-decreasing; the
// composite primary key makes redundant marking a no-op at the database level.
type MessageRead struct {
	MessageID string    `json:"message_id" gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MessageRead.
func (MessageRead) TableName() string { return "message_reads" }

// NotificationTypeMessage tags notifications that merely mirror a message
// insert. They are excluded from unread totals because the message itself is
// already counted.
const NotificationTypeMessage = "message"

// Notification is a discrete per-user event (status change, assignment,
// deadline, ...) independent of any conversation. The only state transition
// is unread -> read; deletion removes the row entirely.
type Notification struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_notif_user"`
	Type      string         `json:"type"       gorm:"type:varchar(64);not null"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null"`
	IsRead    bool           `json:"is_read"    gorm:"not null;default:false;index"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
