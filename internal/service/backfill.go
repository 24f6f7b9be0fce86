package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
	"github.com/capitalize-ai/crisp-sync/pkg/tracing"
)

// PageSize is both the per_page sent upstream and the short-page threshold that ends a backfill.
const PageSize = 20

// ErrFirstPage is returned when the first page cannot be fetched or stored; nothing was backfilled.
var ErrFirstPage = errors.New("backfill failed on first page")

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	RunID         string `json:"run_id"`
	WebsiteID     string `json:"website_id"`
	Conversations int    `json:"conversation_count"`
	Messages      int    `json:"message_count"`
	// PagesProcessed counts pages that contained conversations.
	PagesProcessed int `json:"pages_processed"`
	PagesFetched   int `json:"pages_fetched"`
	// Partial is set when the run stopped early after a failure or cancellation.
	Partial bool   `json:"partial"`
	Error   string `json:"error,omitempty"`
}

// BackfillCoordinator pulls full conversation history page by page.
type BackfillCoordinator struct {
	gateway     Gateway
	writer      *Writer
	concurrency int
	logger      *logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewBackfillCoordinator creates a coordinator fetching up to concurrency message listings at once.
func NewBackfillCoordinator(gateway Gateway, writer *Writer, concurrency int, log *logger.Logger) *BackfillCoordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BackfillCoordinator{
		gateway:     gateway,
		writer:      writer,
		concurrency: concurrency,
		logger:      log.Named("backfill"),
		tracer:      tracing.Tracer("crisp-sync/backfill"),
		now:         time.Now,
	}
}

// Run backfills websiteID. A failure on the first page is returned wrapped in ErrFirstPage.
// Later failures and cancellation between pages end the run with a partial result and a nil error.
func (b *BackfillCoordinator) Run(ctx context.Context, websiteID string) (*BackfillResult, error) {
	res := &BackfillResult{RunID: uuid.NewString(), WebsiteID: websiteID}
	log := b.logger.WithCorrelationID(res.RunID).With(zap.String("website_id", websiteID))

	ctx, span := b.tracer.Start(ctx, "backfill.run", trace.WithAttributes(
		attribute.String("website_id", websiteID),
		attribute.String("run_id", res.RunID),
	))
	defer span.End()

	log.Info("backfill started")
	start := time.Now()

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return b.stop(span, log, res, "cancelled", err), nil
		}

		raws, err := b.gateway.ListConversations(ctx, websiteID, page, PageSize)
		res.PagesFetched++
		metrics.BackfillPagesTotal.Inc()
		if err == nil && len(raws) > 0 {
			err = b.processPage(context.WithoutCancel(ctx), log, res, websiteID, page, raws)
		}
		if err != nil {
			if ctx.Err() != nil {
				return b.stop(span, log, res, "cancelled", ctx.Err()), nil
			}
			if page == 1 {
				metrics.BackfillRunsTotal.WithLabelValues("failed").Inc()
				span.SetStatus(codes.Error, err.Error())
				log.Error("backfill failed on first page", zap.Error(err))
				return nil, fmt.Errorf("%w: %w", ErrFirstPage, err)
			}
			log.Error("backfill page failed", zap.Int("page", page), zap.Error(err))
			return b.stop(span, log, res, "failed", err), nil
		}

		if len(raws) < PageSize {
			break
		}
	}

	metrics.BackfillRunsTotal.WithLabelValues("complete").Inc()
	span.SetAttributes(attribute.Int("conversations", res.Conversations), attribute.Int("messages", res.Messages))
	log.Info("backfill completed",
		zap.Int("conversations", res.Conversations),
		zap.Int("messages", res.Messages),
		zap.Int("pages", res.PagesProcessed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (b *BackfillCoordinator) stop(span trace.Span, log *logger.Logger, res *BackfillResult, reason string, err error) *BackfillResult {
	res.Partial = true
	res.Error = err.Error()
	metrics.BackfillRunsTotal.WithLabelValues("partial").Inc()
	span.SetStatus(codes.Error, reason)
	log.Warn("backfill stopped early",
		zap.String("reason", reason),
		zap.Int("conversations", res.Conversations),
		zap.Int("messages", res.Messages),
		zap.Int("pages", res.PagesProcessed),
	)
	return res
}

// processPage stores one page of conversations and then their messages. Totals are added to res
// only once the whole page is stored.
func (b *BackfillCoordinator) processPage(ctx context.Context, log *logger.Logger, res *BackfillResult, websiteID string, page int, raws []model.ConversationRaw) error {
	ctx, span := b.tracer.Start(ctx, "backfill.page", trace.WithAttributes(
		attribute.Int("page", page),
		attribute.Int("conversations", len(raws)),
	))
	defer span.End()

	now := b.now()
	convs := normalizeConversations(raws, websiteID, now, log)
	if _, err := b.writer.WriteConversations(ctx, convs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	msgs := normalizeMessages(b.fetchMessages(ctx, log, convs), now, log)
	if _, err := b.writer.WriteMessages(ctx, msgs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res.PagesProcessed++
	res.Conversations += len(convs)
	res.Messages += len(msgs)
	log.Info("backfill page stored",
		zap.Int("page", page),
		zap.Int("conversations", len(convs)),
		zap.Int("messages", len(msgs)),
	)
	return nil
}

// fetchMessages lists every conversation's messages concurrently. A failed listing contributes nothing.
func (b *BackfillCoordinator) fetchMessages(ctx context.Context, log *logger.Logger, convs []*model.Conversation) []model.MessageRaw {
	var (
		mu  sync.Mutex
		all []model.MessageRaw
	)

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, c := range convs {
		g.Go(func() error {
			raws, err := b.gateway.ListMessages(ctx, c.WebsiteID, c.SessionID)
			if err != nil {
				log.Warn("failed to fetch conversation messages",
					zap.String("session_id", c.SessionID),
					zap.Error(err),
				)
				return nil
			}
			for i := range raws {
				if raws[i].SessionID == "" {
					raws[i].SessionID = c.SessionID
				}
				if raws[i].WebsiteID == "" {
					raws[i].WebsiteID = c.WebsiteID
				}
			}
			mu.Lock()
			all = append(all, raws...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return all
}
