package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
)

// DefaultAttachmentLimit is the attachment ceiling when none is configured.
const DefaultAttachmentLimit = 2 << 20

// MessageLog is the append-only in-memory chat history.
// It is owned by the hub loop and is not safe for concurrent use.
type MessageLog struct {
	messages []model.Message
	maxBytes int
	now      func() time.Time
	lastID   int64
}

// NewMessageLog creates an empty log with the given attachment ceiling.
func NewMessageLog(maxBytes int, now func() time.Time) *MessageLog {
	if maxBytes <= 0 {
		maxBytes = DefaultAttachmentLimit
	}
	if now == nil {
		now = time.Now
	}
	return &MessageLog{maxBytes: maxBytes, now: now}
}

// Append validates and stores a new message authored by author.
func (l *MessageLog) Append(author, text string, att *model.Attachment) (model.Message, error) {
	if att != nil && len(att.Data) == 0 {
		att = nil
	}
	// whitespace-only text counts as empty, but stored text is kept byte for byte
	if strings.TrimSpace(text) == "" && att == nil {
		return model.Message{}, errs.ErrEmptyMessage
	}
	if att != nil && len(att.Data) > l.maxBytes {
		return model.Message{}, fmt.Errorf("%s is %d bytes: %w", att.Name, len(att.Data), errs.ErrAttachmentTooLarge)
	}

	now := l.now()
	msg := model.Message{
		ID:         l.nextID(now),
		Author:     author,
		Text:       text,
		Attachment: att,
		CreatedAt:  now.UTC(),
	}
	l.messages = append(l.messages, msg)
	return msg, nil
}

// nextID derives the id from the creation time in milliseconds, bumped so ids stay strictly increasing.
func (l *MessageLog) nextID(now time.Time) string {
	id := now.UnixMilli()
	if id <= l.lastID {
		id = l.lastID + 1
	}
	l.lastID = id
	return strconv.FormatInt(id, 10)
}

// Delete removes message id if requester is its author.
func (l *MessageLog) Delete(id, requester string) error {
	for i, m := range l.messages {
		if m.ID != id {
			continue
		}
		if m.Author != requester {
			return fmt.Errorf("delete %s: %w", id, errs.ErrNotOwner)
		}
		l.messages = append(l.messages[:i], l.messages[i+1:]...)
		return nil
	}
	return fmt.Errorf("delete %s: %w", id, errs.ErrMessageNotFound)
}

// Replay returns the whole log in append order.
func (l *MessageLog) Replay() []model.Message {
	out := make([]model.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of stored messages.
func (l *MessageLog) Len() int { return len(l.messages) }
