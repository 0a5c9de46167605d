// Package fanout implements the fan-out-and-prune delivery pipeline that runs
// once per document-creation event: resolve recipients, gather device tokens,
// dispatch one batched push and clear tokens the gateway reports as dead.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/store"
)

const (
	anonymousName = "Anonymous"
	unknownName   = "Unknown User"

	defaultGatherConcurrency = 8
	defaultCallTimeout       = 5 * time.Second
)

// Stores groups the document-store surfaces the pipeline depends on. Users
// and Scrubber may be satisfied by the same value (the cache decorator
// implements both).
type Stores struct {
	Containers store.ContainerReader
	Users      store.UserReader
	Messages   store.MessageUpdater
	Scrubber   store.TokenScrubber
}

// WebDispatcher delivers the payload to browser push subscriptions and
// returns the subscriptions the push service reported as gone.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []store.WebPushSubscription, payload dispatch.Payload) (string, []store.WebPushSubscription, error)
}

// Options tunes the pipeline. Zero values select defaults; Web is optional.
type Options struct {
	GatherConcurrency int
	CallTimeout       time.Duration
	Web               WebDispatcher
}

// Pipeline executes the fan-out protocol. One Pipeline serves all five
// routes; events carry their route with them.
type Pipeline struct {
	stores      Stores
	gateway     dispatch.Gateway
	web         WebDispatcher
	logger      *slog.Logger
	gatherLimit int
	callTimeout time.Duration
}

func New(stores Stores, gateway dispatch.Gateway, logger *slog.Logger, opts Options) *Pipeline {
	if opts.GatherConcurrency <= 0 {
		opts.GatherConcurrency = defaultGatherConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Pipeline{
		stores:      stores,
		gateway:     gateway,
		web:         opts.Web,
		logger:      logger.With("component", "FanoutPipeline"),
		gatherLimit: opts.GatherConcurrency,
		callTimeout: opts.CallTimeout,
	}
}

// Handle runs the full pipeline for one event. Every failure is contained
// within the event: the returned error exists so the caller can log it, never
// so the trigger redelivers. A missed push is silent for the end user.
func (p *Pipeline) Handle(ctx context.Context, ev *Event) error {
	log := p.logger.With(
		"kind", ev.Route.Kind,
		"container_id", ev.ContainerID,
		"doc_id", ev.DocumentID,
	)

	if len(ev.Fields) == 0 {
		log.Info("No data found in the created document.")
		return nil
	}

	senderID := ev.SenderID()

	recipients, err := p.resolveRecipients(ctx, ev, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("Container does not exist.")
			return nil
		}
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		log.Info("No recipients to notify.")
		return nil
	}
	log.Debug("Recipients resolved.", "count", len(recipients))

	targets := p.gather(ctx, recipients, log)
	if len(targets.tokens) == 0 && len(targets.webSubs) == 0 {
		log.Info("No registered devices among recipients.")
		return nil
	}

	var senderName string
	if ev.Route.HasSender {
		senderName = p.resolveSenderName(ctx, ev, senderID, log)
	}

	payload := ev.Route.Payload(ev, senderName)

	if len(targets.tokens) > 0 {
		report, err := p.dispatch(ctx, targets.tokens, payload)
		if err != nil {
			// Transport failure: nothing was delivered and there is no
			// per-token report to reconcile. Logged and swallowed so the
			// trigger never retries with side effects.
			log.Error("Push dispatch failed.", "err", err)
		} else {
			log.Info("Push dispatched.",
				"success", report.SuccessCount,
				"failure", report.FailureCount,
			)
			p.reconcile(ctx, targets.tokens, report.Results, log)
		}
	}

	if p.web != nil && len(targets.webSubs) > 0 {
		p.dispatchWeb(ctx, targets.webSubs, payload, log)
	}

	return nil
}

func (p *Pipeline) resolveRecipients(ctx context.Context, ev *Event, senderID string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	doc, err := p.stores.Containers.GetContainer(cctx, ev.Route.Collection, ev.ContainerID)
	if err != nil {
		return nil, err
	}

	ids := ev.Route.Recipients(doc)
	if senderID == "" {
		return ids, nil
	}
	recipients := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	return recipients, nil
}

type gatherResult struct {
	tokens  []string
	webSubs []store.WebPushSubscription
}

// gather performs one profile read per recipient with bounded concurrency.
// Results are reassembled in recipient order: the token slice order is what
// the reconciler later aligns delivery results against. Failed or missing
// reads contribute no entry.
func (p *Pipeline) gather(ctx context.Context, recipients []string, log *slog.Logger) gatherResult {
	users := make([]*store.User, len(recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.gatherLimit)
	for i, id := range recipients {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, p.callTimeout)
			defer cancel()
			u, err := p.stores.Users.GetUser(cctx, id)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					log.Warn("User read failed; recipient skipped.", "user_id", id, "err", err)
				}
				return nil
			}
			users[i] = u
			return nil
		})
	}
	// Reads are best effort and the workers never return errors.
	_ = g.Wait()

	var out gatherResult
	for _, u := range users {
		if u == nil {
			continue
		}
		if u.PushToken != "" {
			out.tokens = append(out.tokens, u.PushToken)
		}
		if u.WebSubscription != nil && u.WebSubscription.Endpoint != "" {
			out.webSubs = append(out.webSubs, *u.WebSubscription)
		}
	}
	return out
}

// resolveSenderName returns the display name to use as the notification
// title. The name stored on the message wins unless it is missing or the
// Anonymous placeholder; the resolved name is written back to the message
// document when it differs, so later readers see it without another lookup.
func (p *Pipeline) resolveSenderName(ctx context.Context, ev *Event, senderID string, log *slog.Logger) string {
	stored := stringField(ev.Fields, "senderName")
	if stored != "" && stored != anonymousName {
		return stored
	}

	resolved := unknownName
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	u, err := p.stores.Users.GetUser(cctx, senderID)
	cancel()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("Sender profile read failed.", "sender_id", senderID, "err", err)
		}
	} else if u.DisplayName != "" {
		resolved = u.DisplayName
	}

	if resolved != stored {
		wctx, cancel := context.WithTimeout(ctx, p.callTimeout)
		err := p.stores.Messages.SetSenderName(wctx, ev.Route.Collection, ev.ContainerID, ev.DocumentID, resolved)
		cancel()
		if err != nil {
			log.Warn("Sender name write-back failed.", "err", err)
		}
	}
	return resolved
}

// dispatch sends to one token directly and to several in a single batch. The
// single-token report is synthesized to the batch shape so reconciliation has
// one code path.
func (p *Pipeline) dispatch(ctx context.Context, tokens []string, payload dispatch.Payload) (*dispatch.DeliveryReport, error) {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	if len(tokens) == 1 {
		id, err := p.gateway.Send(cctx, tokens[0], payload)
		if err != nil {
			return nil, err
		}
		return &dispatch.DeliveryReport{
			SuccessCount: 1,
			Results:      []dispatch.SendResult{{MessageID: id}},
		}, nil
	}
	return p.gateway.SendBatch(cctx, tokens, payload)
}

// reconcile walks the delivery results, which are aligned index-for-index
// with the dispatched tokens, and clears every token whose failure classifies
// as permanently dead. Cleanup failures are logged and never escalate.
func (p *Pipeline) reconcile(ctx context.Context, tokens []string, results []dispatch.SendResult, log *slog.Logger) {
	if len(results) != len(tokens) {
		log.Error("Delivery report length does not match dispatched tokens; skipping reconciliation.",
			"tokens", len(tokens), "results", len(results))
		return
	}

	var dead []string
	for i, res := range results {
		if res.Err == nil {
			continue
		}
		if dispatch.TokenIsDead(res.Err) {
			dead = append(dead, tokens[i])
			continue
		}
		log.Warn("Push delivery failed for token.", "index", i, "err", res.Err)
	}

	for _, token := range dead {
		cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
		cleared, err := p.stores.Scrubber.ClearPushToken(cctx, token)
		cancel()
		if err != nil {
			log.Warn("Failed to clear dead push token.", "err", err)
			continue
		}
		log.Info("Cleared dead push token.", "users", cleared)
	}
}

func (p *Pipeline) dispatchWeb(ctx context.Context, subs []store.WebPushSubscription, payload dispatch.Payload, log *slog.Logger) {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	receipt, invalid, err := p.web.Dispatch(cctx, subs, payload)
	if err != nil {
		log.Error("Web push dispatch failed.", "err", err)
		return
	}
	log.Info("Web push dispatched.", "receipt", receipt)

	for _, sub := range invalid {
		sctx, cancel := context.WithTimeout(ctx, p.callTimeout)
		cleared, err := p.stores.Scrubber.ClearWebSubscription(sctx, sub.Endpoint)
		cancel()
		if err != nil {
			log.Warn("Failed to clear dead web subscription.", "endpoint", sub.Endpoint, "err", err)
			continue
		}
		log.Info("Cleared dead web subscription.", "users", cleared)
	}
}
