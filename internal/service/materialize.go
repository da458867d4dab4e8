package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"chatfabrica-go/pkg/llm"

	"github.com/google/uuid"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// documentName 由种子文本生成上传文件名，带随机后缀避免同名。
func documentName(seed, ext string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(seed), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		slug = "document"
	}
	return fmt.Sprintf("%s-%s%s", slug, uuid.NewString()[:8], ext)
}

// uploadContent 把内容写入临时目录中的 name 文件，上传后删除本地文件。
func uploadContent(ctx context.Context, client llm.Client, name string, content io.Reader) (string, error) {
	dir, err := os.MkdirTemp("", "chatfabrica-upload-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(name))
	if err := writeFile(path, content); err != nil {
		return "", err
	}
	return client.UploadDocument(ctx, path)
}

// uploadText 把一段文本作为 .txt 文档上传，返回文档 ID 与文件名。
func uploadText(ctx context.Context, client llm.Client, seed, body string) (string, string, error) {
	name := documentName(seed, ".txt")
	id, err := uploadContent(ctx, client, name, strings.NewReader(body))
	return id, name, err
}
