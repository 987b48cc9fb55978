package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maynagashev/modhub/internal/metrics"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"go.uber.org/zap"
)

const defaultNotifyBatch = 20

// NotifierConfig - параметры доставки журнала действий.
type NotifierConfig struct {
	// WebhookURL - адрес чата. Пустой адрес означает вывод в лог.
	WebhookURL string `mapstructure:"webhook_url"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// webhookMessage - тело запроса к вебхуку чата.
type webhookMessage struct {
	Content string `json:"content"`
}

// Notifier доставляет недоставленные записи журнала и помечает их logged.
type Notifier struct {
	actions repository.ActionRepository
	cfg     NotifierConfig
	client  *http.Client
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewNotifier создает Notifier. client может быть nil.
func NewNotifier(
	actions repository.ActionRepository,
	cfg NotifierConfig,
	client *http.Client,
	m *metrics.Metrics,
	log *zap.Logger,
) *Notifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultNotifyBatch
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{actions: actions, cfg: cfg, client: client, metrics: m, log: log.Named("Notifier")}
}

// Flush доставляет одну порцию записей. Запись помечается только после
// успешной доставки, поэтому при сбое она уйдет в следующем проходе.
func (n *Notifier) Flush(ctx context.Context) (int, error) {
	pending, err := n.actions.ListUnlogged(ctx, n.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения журнала: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err = n.deliver(ctx, pending); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(pending))
	for _, a := range pending {
		ids = append(ids, a.ID)
	}
	if err = n.actions.MarkLogged(ctx, ids); err != nil {
		return 0, fmt.Errorf("ошибка отметки журнала: %w", err)
	}
	n.metrics.Notified(len(pending))
	return len(pending), nil
}

func (n *Notifier) deliver(ctx context.Context, actions []models.ActionEntry) error {
	if n.cfg.WebhookURL == "" {
		for _, a := range actions {
			n.log.Info("Действие",
				zap.String("actorID", a.ActorID), zap.String("action", a.Action), zap.Time("at", a.CreatedAt))
		}
		return nil
	}

	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, fmt.Sprintf("[%s] %s", a.CreatedAt.UTC().Format(time.DateTime), a.Action))
	}
	body, err := json.Marshal(webhookMessage{Content: strings.Join(lines, "\n")})
	if err != nil {
		return fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка отправки в вебхук: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("вебхук ответил статусом %d", resp.StatusCode)
	}
	return nil
}
