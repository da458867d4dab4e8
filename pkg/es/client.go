// Package es 提供了与 Elasticsearch 交互的客户端功能，用于聊天记录的全文检索。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ExchangeIndex 定义了聊天记录索引的读写操作。
type ExchangeIndex interface {
	IndexExchange(ctx context.Context, doc model.ExchangeDocument) error
	SearchExchanges(ctx context.Context, chatbotID uint, query string, size int) ([]model.ExchangeDocument, error)
	DeleteChatbot(ctx context.Context, chatbotID uint) error
}

// Client 是基于 go-elasticsearch 的 ExchangeIndex 实现。
type Client struct {
	es    *elasticsearch.Client
	index string
}

const exchangeMapping = `{
	"mappings": {
		"properties": {
			"exchange_id": { "type": "keyword" },
			"thread_id": { "type": "keyword" },
			"chatbot_id": { "type": "long" },
			"user_id": { "type": "long" },
			"question": { "type": "text" },
			"answer": { "type": "text" },
			"created_at": { "type": "date" }
		}
	}
}`

// NewClient 初始化 Elasticsearch 客户端，并确保索引存在。
func NewClient(esCfg config.ElasticsearchConfig) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{es: client, index: esCfg.IndexName}
	if err := c.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return c, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (c *Client) createIndexIfNotExists() error {
	res, err := c.es.Indices.Exists([]string{c.index})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", c.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = c.es.Indices.Create(c.index, c.es.Indices.Create.WithBody(strings.NewReader(exchangeMapping)))
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", c.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", c.index)
	return nil
}

// IndexExchange 写入一问一答，ExchangeID 作为文档 ID，重复写入是幂等的。
func (c *Client) IndexExchange(ctx context.Context, doc model.ExchangeDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ExchangeID,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引聊天记录到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index exchange")
	}
	return nil
}

// SearchExchanges 在某个聊天机器人的记录里按关键词检索问题和回答。
func (c *Client) SearchExchanges(ctx context.Context, chatbotID uint, query string, size int) ([]model.ExchangeDocument, error) {
	body, err := json.Marshal(buildSearchQuery(chatbotID, query, size))
	if err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch 检索出错: %s", res.String())
		return nil, errors.New("failed to search exchanges")
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Source model.ExchangeDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析检索结果失败: %w", err)
	}
	docs := make([]model.ExchangeDocument, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}

// DeleteChatbot 删除某个聊天机器人的全部索引记录。
func (c *Client) DeleteChatbot(ctx context.Context, chatbotID uint) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"chatbot_id": chatbotID}},
	})
	if err != nil {
		return err
	}
	res, err := c.es.DeleteByQuery([]string{c.index}, bytes.NewReader(body), c.es.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("删除聊天记录索引失败: %s", res.String())
	}
	return nil
}

func buildSearchQuery(chatbotID uint, query string, size int) map[string]interface{} {
	if size <= 0 {
		size = 20
	}
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"chatbot_id": chatbotID}},
				},
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  query,
							"fields": []string{"question^2", "answer"},
						},
					},
				},
			},
		},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"created_at": map[string]string{"order": "desc"}},
		},
	}
}
