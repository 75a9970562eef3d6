package utils

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/zhouzirui/chat-relay/internal/service/relay"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// ExchangeResponse 一次对话交换的 HTTP 响应体，audio 数据以 base64 编码
type ExchangeResponse struct {
	Messages []relay.Outbound `json:"messages"`
	Error    string           `json:"error,omitempty"`
}

// RespondExchange 写出交换结果；失败时消息体里仍带有面向用户的提示
func RespondExchange(w http.ResponseWriter, result relay.Result) {
	messages := result.Messages
	if messages == nil {
		messages = []relay.Outbound{}
	}
	body := ExchangeResponse{Messages: messages}
	if result.Err != nil {
		body.Error = result.Err.Error()
	}
	RespondJSON(w, ExchangeStatus(result.Err), body)
}

// ExchangeStatus 将交换错误映射为 HTTP 状态码
func ExchangeStatus(err error) int {
	var (
		inputErr     *relay.InputError
		inferenceErr *relay.InferenceError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &inputErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &inferenceErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
