package service

import (
	"errors"
	"fmt"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/secret"
)

// Gateway 为某个用户构造外部 AI 服务的客户端：解密保存的密钥后交给 llm.Factory。
// 每个请求构造一次，不跨用户缓存。
type Gateway struct {
	box     *secret.Box
	factory llm.Factory
}

// NewGateway 创建一个新的 Gateway 实例。
func NewGateway(box *secret.Box, factory llm.Factory) *Gateway {
	return &Gateway{box: box, factory: factory}
}

// ForUser 返回绑定用户密钥的客户端，用户没有保存密钥时返回 ErrAPIKeyRequired。
func (g *Gateway) ForUser(user *model.User) (llm.Client, error) {
	if user == nil || !user.HasAPIKey() {
		return nil, ErrAPIKeyRequired
	}
	key, err := g.box.Open(user.OpenAIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key of user %d: %w", user.ID, err)
	}
	client, err := g.factory.ForUser(key)
	if errors.Is(err, llm.ErrAPIKeyRequired) {
		return nil, ErrAPIKeyRequired
	}
	return client, err
}
