package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"clipboard-history/pkg/types"
)

// StringArray is persisted as a JSON array in a text column.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (a *StringArray) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = StringArray{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into StringArray", src)
	}
	if len(data) == 0 {
		*a = StringArray{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*a = out
	return nil
}

// EntryModel is the entries table. Text kinds keep their payload in Text,
// images in Data. TextFolded and TagsFolded are case-folded copies used
// for substring search.
type EntryModel struct {
	ID            int64       `gorm:"primaryKey;autoIncrement"`
	CreatedAt     time.Time   `gorm:"not null;index"`
	Kind          string      `gorm:"type:text;not null"`
	Text          *string     `gorm:"type:text"`
	Data          []byte      `gorm:"type:blob"`
	ByteLength    int64       `gorm:"not null"`
	ContentHash   string      `gorm:"type:text;not null;uniqueIndex"`
	SourceProcess string      `gorm:"type:text"`
	Tags          StringArray `gorm:"type:text"`
	TextFolded    string      `gorm:"type:text"`
	TagsFolded    string      `gorm:"type:text"`
}

func (EntryModel) TableName() string {
	return "entries"
}

// tagSeparator keeps folded tags apart so a query cannot match across two tags.
const tagSeparator = "\x1f"

// Fold returns the case-folded form of s used on both sides of a search.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// FoldTags joins the folded tags for the tags_folded column.
func FoldTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	folded := make([]string, len(tags))
	for i, t := range tags {
		folded[i] = Fold(t)
	}
	return tagSeparator + strings.Join(folded, tagSeparator) + tagSeparator
}

// NewEntryModel builds a row for a validated input.
func NewEntryModel(in AppendInput, hash string, createdAt time.Time) *EntryModel {
	m := &EntryModel{
		CreatedAt:     createdAt,
		Kind:          string(in.Kind),
		ByteLength:    in.ByteLength,
		ContentHash:   hash,
		SourceProcess: in.SourceProcess,
		Tags:          StringArray(NormalizeTags(in.Tags)),
	}
	if m.ByteLength == 0 {
		m.ByteLength = int64(len(in.Payload))
	}
	if in.Kind.IsText() {
		text := string(in.Payload)
		m.Text = &text
		m.TextFolded = Fold(text)
	} else {
		m.Data = in.Payload
	}
	m.TagsFolded = FoldTags(m.Tags)
	return m
}

// ToEntry converts a row into the public entry type.
func (m *EntryModel) ToEntry() *types.Entry {
	e := &types.Entry{
		ID:            m.ID,
		CreatedAt:     m.CreatedAt,
		Kind:          types.Kind(m.Kind),
		ByteLength:    m.ByteLength,
		ContentHash:   m.ContentHash,
		SourceProcess: m.SourceProcess,
		Tags:          append([]string{}, m.Tags...),
	}
	if m.Text != nil {
		e.Payload = []byte(*m.Text)
	} else {
		e.Payload = m.Data
	}
	return e
}

// NormalizeTags validates each tag and drops blanks, over-long tags and
// duplicates, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		t, err := ValidateTag(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ValidateTag trims and checks a single user-supplied tag.
func ValidateTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", ErrEmptyTag
	}
	if len(tag) > MaxTagLength {
		return "", ErrTagTooLong
	}
	return tag, nil
}
