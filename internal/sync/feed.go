package sync

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/internal/store"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FeedClient fetches and parses the external inventory XML feed.
type FeedClient struct {
	logger *zap.Logger
	client *resty.Client
	url    string
}

// NewFeedClient builds the HTTP client for the feed with the configured
// timeout and retry budget.
func NewFeedClient(logger *zap.Logger, cfg config.FeedConfig) *FeedClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount)

	return &FeedClient{
		logger: logger.Named("sync.feed"),
		client: client,
		url:    cfg.URL,
	}
}

type feedEnvelope struct {
	XMLName  xml.Name      `xml:"estoque"`
	Veiculos []feedVeiculo `xml:"veiculo"`
}

type feedVeiculo struct {
	ID     string   `xml:"id"`
	Nome   string   `xml:"nome"`
	Valor  string   `xml:"valor"`
	Ano    string   `xml:"ano"`
	KM     string   `xml:"km"`
	Cambio string   `xml:"cambio"`
	Link   string   `xml:"link"`
	Foto   string   `xml:"foto"`
	Fotos  []string `xml:"fotos>foto"`
}

// Fetch downloads the feed for one loja and maps it to active inventory
// rows. A "{loja}" placeholder in the configured URL is replaced by the
// loja id.
func (f *FeedClient) Fetch(ctx context.Context, lojaID string) ([]store.Estoque, error) {
	if f.url == "" {
		return nil, fmt.Errorf("no feed URL configured")
	}
	url := strings.ReplaceAll(f.url, "{loja}", lojaID)

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode())
	}

	var env feedEnvelope
	if err := xml.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	version := store.NowVersion()
	items := make([]store.Estoque, 0, len(env.Veiculos))
	for _, v := range env.Veiculos {
		if v.ID == "" {
			f.logger.Warn("skipping feed vehicle without id", zap.String("nome", v.Nome))
			continue
		}
		foto := v.Foto
		if foto == "" && len(v.Fotos) > 0 {
			foto = v.Fotos[0]
		}
		items = append(items, store.Estoque{
			ID:          v.ID,
			LojaID:      lojaID,
			Nome:        v.Nome,
			Valor:       v.Valor,
			Ano:         v.Ano,
			KM:          v.KM,
			Cambio:      v.Cambio,
			Fotos:       v.Fotos,
			Foto:        foto,
			Link:        v.Link,
			Ativo:       true,
			UpdatedAtMs: version,
		})
	}

	f.logger.Info("feed fetched",
		zap.String("loja", lojaID),
		zap.Int("vehicles", len(items)))
	return items, nil
}
