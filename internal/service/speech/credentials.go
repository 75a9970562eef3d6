package speech

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
)

// ErrMissingCredentials 缺少 AppID 或 AccessToken
var ErrMissingCredentials = errors.New("volcengine speech config is missing AppID or AccessToken")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrMissingCredentials
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return "", "", ErrMissingCredentials
	}
	return appID, token, nil
}

// authHeader 构造握手请求头；connectID 为空时生成一个新的
func authHeader(appID, token, resourceID, connectID string) (http.Header, string) {
	if connectID == "" {
		connectID = uuid.NewString()
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header, connectID
}
