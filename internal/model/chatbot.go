package model

import (
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

const (
	ItemTypeFile = "file"
	ItemTypeText = "text"

	ChatbotStatusActive = "active"

	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// KnowledgeFile 是一个已上传到外部服务的文件条目，ID 即外部文档 ID。
type KnowledgeFile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CharacterCount int    `json:"characterCount"`
	Type           string `json:"type"`
	Body           string `json:"body,omitempty"`
}

// TrainingData 是一个爬取得到的链接条目，FileID 即外部文档 ID。
type TrainingData struct {
	FileID          string `json:"fileId"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	CharactersCount int    `json:"charactersCount"`
	Body            string `json:"body,omitempty"`
}

// TextItem 是聊天机器人唯一的粘贴文本槽位，DocumentID 为空表示不存在。
type TextItem struct {
	DocumentID     string `gorm:"type:varchar(128)"`
	Name           string `gorm:"type:varchar(255)"`
	Body           string `gorm:"type:text"`
	CharacterCount int
}

// Chatbot 对应外部服务中的一个 assistant，并持有自己的知识目录。
type Chatbot struct {
	ID            uint                              `gorm:"primaryKey" json:"id"`
	UserID        uint                              `gorm:"index;not null" json:"userId"`
	AssistantID   string                            `gorm:"type:varchar(128);uniqueIndex;not null" json:"assistantId"`
	Name          string                            `gorm:"type:varchar(255);not null" json:"name"`
	Instructions  string                            `gorm:"type:text" json:"instructions"`
	Model         string                            `gorm:"type:varchar(64);not null" json:"model"`
	Temperature   float64                           `gorm:"not null" json:"temperature"`
	Visibility    string                            `gorm:"type:varchar(20);not null;default:private" json:"visibility"`
	Status        string                            `gorm:"type:varchar(20);not null;default:active" json:"status"`
	IconKey       string                            `gorm:"type:varchar(255)" json:"-"`
	Files         datatypes.JSONSlice[KnowledgeFile] `json:"-"`
	Text          TextItem                          `gorm:"embedded;embeddedPrefix:text_" json:"-"`
	TrainingDatas datatypes.JSONSlice[TrainingData]  `json:"trainingDatas"`
	LastTrainAt   *time.Time                        `json:"lastTrainAt"`
	CreatedAt     time.Time                         `json:"createdAt"`
	UpdatedAt     time.Time                         `json:"updatedAt"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

// CharacterCount 统一按 rune 计算字符数。
func CharacterCount(s string) int {
	return utf8.RuneCountInString(s)
}

// HasText 判断文本槽位是否存在。
func (c *Chatbot) HasText() bool {
	return c.Text.DocumentID != ""
}

// KnowledgeFiles 返回对外展示的文件列表，文本槽位以 type=text 放在最后。
// 结果中 type=text 的条目至多一个。
func (c *Chatbot) KnowledgeFiles() []KnowledgeFile {
	out := make([]KnowledgeFile, 0, len(c.Files)+1)
	for _, f := range c.Files {
		f.Type = ItemTypeFile
		out = append(out, f)
	}
	if c.HasText() {
		out = append(out, KnowledgeFile{
			ID:             c.Text.DocumentID,
			Name:           c.Text.Name,
			CharacterCount: c.Text.CharacterCount,
			Type:           ItemTypeText,
			Body:           c.Text.Body,
		})
	}
	return out
}

// ReplaceText 写入文本槽位。已存在时原地更新正文与字符数并保留名称，
// 返回被取代的旧文档 ID，调用方负责清理旧上传。
func (c *Chatbot) ReplaceText(documentID, name, body string) (superseded string) {
	if c.HasText() {
		superseded = c.Text.DocumentID
		if superseded == documentID {
			superseded = ""
		}
		name = c.Text.Name
	}
	c.Text = TextItem{
		DocumentID:     documentID,
		Name:           name,
		Body:           body,
		CharacterCount: CharacterCount(body),
	}
	return superseded
}

// ClearText 清空文本槽位。
func (c *Chatbot) ClearText() {
	c.Text = TextItem{}
}

// SetFiles 整体替换文件列表，条目一律视为 file 类型。
func (c *Chatbot) SetFiles(files []KnowledgeFile) {
	next := make([]KnowledgeFile, 0, len(files))
	for _, f := range files {
		f.Type = ItemTypeFile
		next = append(next, f)
	}
	c.Files = next
}

// MergeLinks 整体替换链接列表（不是追加），调用方需要带上保留的旧链接。
func (c *Chatbot) MergeLinks(links []TrainingData) {
	next := make([]TrainingData, len(links))
	copy(next, links)
	c.TrainingDatas = next
}

// RemoveItems 按 ID 从文件、链接和文本槽位中移除条目，返回实际移除的 ID。
func (c *Chatbot) RemoveItems(ids []string) []string {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var removed []string

	files := make([]KnowledgeFile, 0, len(c.Files))
	for _, f := range c.Files {
		if _, ok := drop[f.ID]; ok {
			removed = append(removed, f.ID)
			continue
		}
		files = append(files, f)
	}
	c.Files = files

	links := make([]TrainingData, 0, len(c.TrainingDatas))
	for _, l := range c.TrainingDatas {
		if _, ok := drop[l.FileID]; ok {
			removed = append(removed, l.FileID)
			continue
		}
		links = append(links, l)
	}
	c.TrainingDatas = links

	if _, ok := drop[c.Text.DocumentID]; ok && c.HasText() {
		removed = append(removed, c.Text.DocumentID)
		c.ClearText()
	}
	return removed
}

// TotalCharacters 是文件、文本槽位与链接的字符总和。
func (c *Chatbot) TotalCharacters() int {
	total := c.Text.CharacterCount
	for _, f := range c.Files {
		total += f.CharacterCount
	}
	for _, l := range c.TrainingDatas {
		total += l.CharactersCount
	}
	return total
}

// DocumentIDs 返回目录中全部外部文档 ID，顺序为文本、文件、链接。
func (c *Chatbot) DocumentIDs() []string {
	ids := make([]string, 0, len(c.Files)+len(c.TrainingDatas)+1)
	if c.HasText() {
		ids = append(ids, c.Text.DocumentID)
	}
	for _, f := range c.Files {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	for _, l := range c.TrainingDatas {
		if l.FileID != "" {
			ids = append(ids, l.FileID)
		}
	}
	return ids
}
