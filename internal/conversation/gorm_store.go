package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/roundhouse/internal/models"
	"gorm.io/gorm"
)

// GormStore persists conversations through GORM. Same-key operations are
// serialized in-process by a key lock and each one runs in a transaction.
type GormStore struct {
	db   *gorm.DB
	keys keyedMutex
}

// NewGormStore creates a GormStore. The schema must already be migrated.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("conversation: gorm store: db is required")
	}
	return &GormStore{db: db}, nil
}

// Create implements Store.
func (s *GormStore) Create(ctx context.Context, taskID, originalRequest string, variant Variant) (*Conversation, error) {
	if taskID == "" {
		return nil, fmt.Errorf("conversation: create: task id is required")
	}
	unlock := s.keys.Lock(taskID)
	defer unlock()

	c := newConversation(taskID, originalRequest, variant, time.Now())
	row, err := toRow(c)
	if err != nil {
		return nil, fmt.Errorf("conversation: create %s: %w", taskID, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Conversation{}).Where("id = ?", taskID).Count(&count).Error; err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		if count > 0 {
			return ErrDuplicateTask
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: create %s: %w", taskID, err)
	}
	return c, nil
}

// Append implements Store.
func (s *GormStore) Append(ctx context.Context, taskID string, msg Message) error {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadHeader(tx, taskID); err != nil {
			return err
		}

		var existing []models.ConversationMessage
		if err := tx.Where("conversation_id = ?", taskID).Order("sequence").Find(&existing).Error; err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		if err := checkAppend(fromMessageRows(existing), msg); err != nil {
			return err
		}

		row := models.ConversationMessage{
			ConversationID: taskID,
			Sequence:       len(existing) + 1,
			MessageID:      msg.ID,
			Author:         string(msg.Author),
			Kind:           string(msg.Kind),
			TargetAuthor:   string(msg.TargetAuthor),
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return touch(tx, taskID, nil)
	})
	if err != nil {
		return fmt.Errorf("conversation: append %s: %w", taskID, err)
	}
	return nil
}

// SetStatus implements Store.
func (s *GormStore) SetStatus(ctx context.Context, taskID string, status Status) error {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := loadHeader(tx, taskID)
		if err != nil {
			return err
		}
		if err := checkTransition(Status(row.Status), status); err != nil {
			return err
		}
		return touch(tx, taskID, map[string]interface{}{"status": string(status)})
	})
	if err != nil {
		return fmt.Errorf("conversation: set status %s to %s: %w", taskID, status, err)
	}
	return nil
}

// SetActive implements Store.
func (s *GormStore) SetActive(ctx context.Context, taskID string, active bool) error {
	if err := s.updateHeader(ctx, taskID, map[string]interface{}{"active": active}); err != nil {
		return fmt.Errorf("conversation: set active %s: %w", taskID, err)
	}
	return nil
}

// MarkDepthExceeded implements Store.
func (s *GormStore) MarkDepthExceeded(ctx context.Context, taskID string) error {
	if err := s.updateHeader(ctx, taskID, map[string]interface{}{"depth_exceeded": true}); err != nil {
		return fmt.Errorf("conversation: mark depth exceeded %s: %w", taskID, err)
	}
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, taskID string) (*Conversation, error) {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	var row models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("sequence") }).
		Where("id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation: get %s: %w", taskID, ErrUnknownTask)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", taskID, err)
	}
	c, err := fromRow(row)
	if err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", taskID, err)
	}
	return c, nil
}

// Evict implements Store.
func (s *GormStore) Evict(ctx context.Context, before time.Time) (int, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("status IN ? AND active = ? AND updated_at < ?",
			[]string{string(StatusCompleted), string(StatusFailed)}, false, before).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("conversation: evict: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id IN ?", ids).Delete(&models.ConversationMessage{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return tx.Where("id IN ?", ids).Delete(&models.Conversation{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("conversation: evict: %w", err)
	}
	return len(ids), nil
}

func (s *GormStore) updateHeader(ctx context.Context, taskID string, fields map[string]interface{}) error {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadHeader(tx, taskID); err != nil {
			return err
		}
		return touch(tx, taskID, fields)
	})
}

// loadHeader fetches the conversation row without messages.
func loadHeader(tx *gorm.DB, taskID string) (*models.Conversation, error) {
	var row models.Conversation
	err := tx.Where("id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownTask
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &row, nil
}

// touch applies fields and bumps updated_at.
func touch(tx *gorm.DB, taskID string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}
	if err := tx.Model(&models.Conversation{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

func toRow(c *Conversation) (models.Conversation, error) {
	participants := "[]"
	if len(c.Participants) > 0 {
		data, err := json.Marshal(c.Participants)
		if err != nil {
			return models.Conversation{}, fmt.Errorf("marshal participants: %w", err)
		}
		participants = string(data)
	}
	return models.Conversation{
		ID:              c.ID,
		OriginalRequest: c.OriginalRequest,
		Variant:         string(c.Variant),
		Status:          string(c.Status),
		Participants:    participants,
		Active:          c.Active,
		DepthExceeded:   c.DepthExceeded,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}, nil
}

func fromRow(row models.Conversation) (*Conversation, error) {
	c := &Conversation{
		ID:              row.ID,
		OriginalRequest: row.OriginalRequest,
		Variant:         Variant(row.Variant),
		Messages:        fromMessageRows(row.Messages),
		Status:          Status(row.Status),
		Active:          row.Active,
		DepthExceeded:   row.DepthExceeded,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.Participants != "" && row.Participants != "[]" {
		if err := json.Unmarshal([]byte(row.Participants), &c.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	return c, nil
}

func fromMessageRows(rows []models.ConversationMessage) []Message {
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, Message{
			ID:           r.MessageID,
			Author:       Author(r.Author),
			Content:      r.Content,
			CreatedAt:    r.CreatedAt,
			Kind:         Kind(r.Kind),
			TargetAuthor: Author(r.TargetAuthor),
		})
	}
	return msgs
}
