package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/synthesis"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-image-1"
	defaultTimeout   = 120 * time.Second
)

// Config 描述了调用 OpenAI Images API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 的图像生成能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	Seed           int64  `json:"seed"`
	N              int    `json:"n"`
	OutputFormat   string `json:"output_format"`
	Background     string `json:"background,omitempty"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize 调用 /images/generations 并返回解码后的 PNG 字节。
// 响应缺少 b64_json 时直接失败，不会换一个提示词重试。
func (c *Client) Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Image, error) {
	body := imageRequest{
		Model:          c.model,
		Prompt:         req.Prompt,
		Size:           req.SizeString(),
		Seed:           req.Seed,
		N:              1,
		OutputFormat:   "png",
		ResponseFormat: "b64_json",
	}
	if req.Transparent {
		body.Background = "transparent"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "序列化 OpenAI 请求失败")
	}

	endpoint := c.baseURL + "/images/generations"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeSynthesisFailed,
			fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Data) == 0 || strings.TrimSpace(decoded.Data[0].B64JSON) == "" {
		return nil, xerrors.New(xerrors.CodeSynthesisFailed, "OpenAI 响应中没有 b64_json 数据")
	}

	data, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "b64_json 解码失败")
	}
	return &synthesis.Image{Bytes: data, Model: c.model}, nil
}

var _ synthesis.Provider = (*Client)(nil)
