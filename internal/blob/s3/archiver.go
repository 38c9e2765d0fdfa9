package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/crwnlabs/crossarb/internal/domain"
)

// TradeArchiver writes JSON snapshots of terminal trades under
// trades/<yyyy>/<mm>/<dd>/<trade-id>.json.
type TradeArchiver struct {
	client *Client
	logger *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver on top of the given client.
func NewTradeArchiver(c *Client, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		client: c,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrade uploads the trade snapshot. Callers treat failures as
// log-and-continue: archival never blocks settlement.
func (a *TradeArchiver) ArchiveTrade(ctx context.Context, trade domain.Trade) error {
	data, err := json.MarshalIndent(trade, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal trade %s: %w", trade.ID, err)
	}

	key := fmt.Sprintf("trades/%s/%s.json", trade.CreatedAt.UTC().Format("2006/01/02"), trade.ID)
	_, err = a.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: archive trade %s: %w", trade.ID, err)
	}

	a.logger.Debug("trade archived",
		slog.String("trade_id", trade.ID),
		slog.String("key", key),
	)
	return nil
}

// Compile-time interface check.
var _ domain.TradeArchiver = (*TradeArchiver)(nil)
