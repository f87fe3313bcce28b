// Package dispatcher is the single entry point for inbound messages. It picks
// the responder fixed at startup and normalizes its answer into the outbound
// contract.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"rebanada-bot-backend/internal/catalog"
	"rebanada-bot-backend/internal/config"
	"rebanada-bot-backend/internal/intent"
	"rebanada-bot-backend/internal/metrics"
	"rebanada-bot-backend/internal/order"
	"rebanada-bot-backend/internal/store"
)

// IncomingMessage is one inbound chat message.
type IncomingMessage struct {
	Text     string
	SenderID string
	Channel  string
}

// OutboundResult always carries all three fields; Order is JSON null when
// absent.
type OutboundResult struct {
	Reply string          `json:"reply"`
	Done  bool            `json:"done"`
	Order json.RawMessage `json:"order"`
}

// Grounded is implemented by intent.GroundedResponder.
type Grounded interface {
	Respond(ctx context.Context, text, senderID string, c *catalog.Catalog) intent.Result
}

// OrderArchiver is implemented by store.OrderArchive.
type OrderArchiver interface {
	SaveOrder(ctx context.Context, senderID, channel, status string, payload json.RawMessage) (string, error)
}

type Options struct {
	// Mode is config.ModeGrounded or config.ModeRules.
	Mode          string
	Grounded      Grounded
	Conversations store.ConversationStore
	Archive       OrderArchiver
	MaxTurns      int
	Log           *zap.Logger
}

// recordStripes bounds the per-sender locks that serialize conversation
// updates inside one process.
const recordStripes = 64

type Dispatcher struct {
	catalog  *catalog.Store
	mode     string
	grounded Grounded
	convs    store.ConversationStore
	archive  OrderArchiver
	maxTurns int
	log      *zap.Logger
	now      func() time.Time
	locks    [recordStripes]sync.Mutex
}

// New builds a Dispatcher. Grounded mode without a responder resolves to
// rules.
func New(cat *catalog.Store, opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	mode := opts.Mode
	if mode != config.ModeGrounded || opts.Grounded == nil {
		mode = config.ModeRules
	}
	return &Dispatcher{
		catalog:  cat,
		mode:     mode,
		grounded: opts.Grounded,
		convs:    opts.Conversations,
		archive:  opts.Archive,
		maxTurns: opts.MaxTurns,
		log:      log.Named("dispatcher"),
		now:      time.Now,
	}
}

func (d *Dispatcher) Mode() string { return d.mode }

// Handle answers one message. It never fails; every failure path inside the
// responders already resolves to a textual reply.
func (d *Dispatcher) Handle(ctx context.Context, msg IncomingMessage) OutboundResult {
	c := d.catalog.Current()

	var res intent.Result
	if d.mode == config.ModeGrounded {
		res = d.grounded.Respond(ctx, msg.Text, msg.SenderID, c)
	} else {
		res = intent.Result{Reply: intent.Match(msg.Text, c), Source: intent.SourceRules}
	}

	out := normalize(res)
	metrics.MessagesHandled.WithLabelValues(d.mode, res.Source).Inc()
	d.log.Info("message handled",
		zap.String("sender", msg.SenderID),
		zap.String("channel", msg.Channel),
		zap.String("source", res.Source),
		zap.Bool("done", out.Done))

	if out.Done {
		d.finalize(ctx, msg, out)
	}
	d.record(ctx, msg, out)
	return out
}

func normalize(res intent.Result) OutboundResult {
	out := OutboundResult{Reply: res.Reply, Done: res.Done, Order: res.Order}
	if !intent.IsObject(out.Order) {
		out.Order = json.RawMessage("null")
	}
	return out
}

func hasOrder(out OutboundResult) bool {
	return string(out.Order) != "null"
}

func (d *Dispatcher) finalize(ctx context.Context, msg IncomingMessage, out OutboundResult) {
	status := order.StatusUnknown
	if hasOrder(out) {
		sum, err := order.Inspect(out.Order)
		if err != nil {
			d.log.Warn("order inspection failed", zap.String("sender", msg.SenderID), zap.Error(err))
		}
		status = sum.Status
		if status == order.StatusPartial {
			d.log.Warn("order finalized with missing fields", zap.String("sender", msg.SenderID), zap.Strings("missing", sum.Missing))
		}
	}
	metrics.OrdersFinalized.WithLabelValues(string(status)).Inc()

	if d.archive == nil || !hasOrder(out) || msg.SenderID == "" {
		return
	}
	id, err := d.archive.SaveOrder(ctx, msg.SenderID, msg.Channel, string(status), out.Order)
	if err != nil {
		d.log.Error("order archive failed", zap.String("sender", msg.SenderID), zap.Error(err))
		return
	}
	d.log.Info("order archived", zap.String("sender", msg.SenderID), zap.String("order_id", id), zap.String("status", string(status)))
}

// record appends the exchange to the sender's conversation. Replies never
// depend on it.
func (d *Dispatcher) record(ctx context.Context, msg IncomingMessage, out OutboundResult) {
	if d.convs == nil || msg.SenderID == "" {
		return
	}
	mu := d.senderLock(msg.SenderID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := d.convs.Get(ctx, msg.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		conv = &store.Conversation{SenderID: msg.SenderID}
	} else if err != nil {
		d.log.Warn("conversation load failed", zap.String("sender", msg.SenderID), zap.Error(err))
		return
	}

	now := d.now().UTC()
	conv.Channel = msg.Channel
	conv.Append(d.maxTurns,
		store.Turn{Role: "user", Content: msg.Text, CreatedAt: now},
		store.Turn{Role: "assistant", Content: out.Reply, CreatedAt: now},
	)
	conv.Done = out.Done
	if hasOrder(out) {
		conv.LastOrder = out.Order
	}
	conv.UpdatedAt = now
	if err := d.convs.Save(ctx, conv); err != nil {
		d.log.Warn("conversation save failed", zap.String("sender", msg.SenderID), zap.Error(err))
	}
}

func (d *Dispatcher) senderLock(senderID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return &d.locks[h.Sum32()%recordStripes]
}

// Conversation exposes the stored state of one sender.
func (d *Dispatcher) Conversation(ctx context.Context, senderID string) (*store.Conversation, error) {
	if d.convs == nil {
		return nil, store.ErrNotFound
	}
	return d.convs.Get(ctx, senderID)
}
