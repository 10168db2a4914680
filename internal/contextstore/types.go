package contextstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for context store operations.
var (
	ErrEmptyContent      = errors.New("context item content cannot be empty")
	ErrEmptyRequest      = errors.New("session request cannot be empty")
	ErrEmptyDescription  = errors.New("task description cannot be empty")
	ErrNoCurrentSession  = errors.New("no current session")
	ErrNoCurrentActivity = errors.New("no current activity")
	ErrUnknownCategory   = errors.New("unknown context item category")
)

// InvariantError indicates a broken store invariant, such as a context item
// referencing a parent record that does not exist. It signals a caller bug
// and is fatal to the run rather than retryable.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("store invariant violated: %s", e.Detail)
}

// Category classifies a context item.
type Category string

const (
	CategorySession  Category = "session"
	CategoryActivity Category = "activity"
	CategoryTask     Category = "task"
	CategoryAction   Category = "action"
	CategoryDecision Category = "decision"
	CategoryLearning Category = "learning"
	CategoryResult   Category = "result"
)

// AllCategories returns every valid category.
func AllCategories() []Category {
	return []Category{
		CategorySession, CategoryActivity, CategoryTask,
		CategoryAction, CategoryDecision, CategoryLearning, CategoryResult,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySession, CategoryActivity, CategoryTask,
		CategoryAction, CategoryDecision, CategoryLearning, CategoryResult:
		return true
	}
	return false
}

// Session is the top of the record hierarchy. It holds the original user
// request and the high-level plan produced for it. Activities reference it
// via ParentID; the session itself has no parent.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Request   string    `json:"request" db:"request"`
	Plan      string    `json:"plan,omitempty" db:"plan"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Activity is one unit of work inside a session, such as generating a
// component. Flat record: hierarchy is expressed only through ParentID.
type Activity struct {
	ID        string    `json:"id" db:"id"`
	ParentID  string    `json:"parent_id" db:"parent_id"`
	Mode      string    `json:"mode" db:"mode"`
	Component string    `json:"component" db:"component"`
	Rationale string    `json:"rationale,omitempty" db:"rationale"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Task is a single file-scoped step inside an activity.
type Task struct {
	ID          string    `json:"id" db:"id"`
	ParentID    string    `json:"parent_id" db:"parent_id"`
	Description string    `json:"description" db:"description"`
	Tags        []string  `json:"tags,omitempty"`
	Result      string    `json:"result,omitempty" db:"result"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Item is one immutable fact recorded during a session. Items are only ever
// appended; "history" is the ordered log filtered by category or tags.
type Item struct {
	ID        string    `json:"id" db:"id"`
	Content   string    `json:"content" db:"content"`
	Category  Category  `json:"category" db:"category"`
	Tags      []string  `json:"tags,omitempty"`
	ParentID  string    `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Cursor identifies the current session, activity and task. It is a
// reference, not ownership: the records themselves live in the store, and
// the cursor is threaded through callers explicitly rather than held as
// process-wide state.
type Cursor struct {
	SessionID  string `json:"session_id,omitempty"`
	ActivityID string `json:"activity_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
}

// Snapshot is a full copy of store contents, used by checkpointing to
// persist and restore a run.
type Snapshot struct {
	Sessions   []Session  `json:"sessions"`
	Activities []Activity `json:"activities"`
	Tasks      []Task     `json:"tasks"`
	Items      []Item     `json:"items"`
	Cursor     Cursor     `json:"cursor"`
}

func newID() string {
	return uuid.New().String()
}
