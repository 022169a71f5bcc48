// Package notify 把连通性状态广播到 NATS，供其他进程或看板订阅。
//
//	conn, _ := notify.Connect(ctx, &cfg)
//	pub, _ := notify.NewPublisher(conn, &cfg, notify.WithLogger(logger))
//	unsubscribe := mon.Subscribe(pub.Notify)
//
// 发布失败只记录日志，不影响监控本身。
package notify

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/dualpath/cache/serializer"
	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/trace"
	"github.com/ceyewan/dualpath/xerrors"
)

// Conn 发布所需的最小连接接口，*nats.Conn 满足该接口
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Event 广播的消息体
type Event struct {
	Source      string        `json:"source" msgpack:"source"`
	PublishedAt time.Time     `json:"published_at" msgpack:"published_at"`
	State       monitor.State `json:"state" msgpack:"state"`
}

// Publisher 状态发布者
type Publisher struct {
	conn       Conn
	subject    string
	source     string
	serializer serializer.Serializer
	clock      clock.Clock
	logger     clog.Logger

	published metrics.Counter
	failed    metrics.Counter
}

// NewPublisher 创建发布者
func NewPublisher(conn Conn, cfg *Config, opts ...Option) (*Publisher, error) {
	if conn == nil {
		return nil, ErrConnNil
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, xerrors.Wrap(err, "notify")
	}

	o := applyOptions(opts...)
	p := &Publisher{
		conn:       conn,
		subject:    cfg.Subject,
		source:     cfg.Source,
		serializer: s,
		clock:      o.clock,
		logger:     o.logger,
	}
	if p.published, err = o.meter.Counter(MetricPublishedTotal, "State events published"); err != nil {
		return nil, err
	}
	if p.failed, err = o.meter.Counter(MetricFailedTotal, "State events that failed to publish"); err != nil {
		return nil, err
	}
	return p, nil
}

// Notify 满足 monitor.Listener，错误只记录不返回
func (p *Publisher) Notify(state monitor.State) {
	if err := p.Publish(context.Background(), state); err != nil {
		p.logger.Warn("publish connectivity state failed", clog.String("subject", p.subject), clog.Error(err))
	}
}

// Publish 编码并发布一次状态，消息头携带链路上下文与编码方式
func (p *Publisher) Publish(ctx context.Context, state monitor.State) error {
	ctx, span, headers := trace.StartProducerSpan(ctx, "notify.publish", "nats", p.subject)
	defer span.End()

	data, err := p.serializer.Marshal(Event{
		Source:      p.source,
		PublishedAt: p.clock.Now(),
		State:       state,
	})
	if err != nil {
		trace.MarkError(span, err)
		p.failed.Inc(ctx)
		return xerrors.Wrap(err, "notify: encode state")
	}

	headers[HeaderEncoding] = p.serializer.Name()
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  headersToNATS(headers),
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		trace.MarkError(span, err)
		p.failed.Inc(ctx)
		return xerrors.Wrapf(err, "notify: publish to %s", p.subject)
	}

	p.published.Inc(ctx)
	p.logger.DebugContext(ctx, "connectivity state published", clog.String("subject", p.subject), clog.Int("bytes", len(data)))
	return nil
}

// Decode 按消息头中的编码方式解出 Event
func Decode(msg *nats.Msg) (*Event, error) {
	s, err := serializer.New(msg.Header.Get(HeaderEncoding))
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := s.Unmarshal(msg.Data, &ev); err != nil {
		return nil, xerrors.Wrap(err, "notify: decode state")
	}
	return &ev, nil
}

func headersToNATS(h map[string]string) nats.Header {
	if len(h) == 0 {
		return nil
	}
	nh := make(nats.Header, len(h))
	for k, v := range h {
		nh.Set(k, v)
	}
	return nh
}

// Connect 按配置建立 NATS 连接
func Connect(ctx context.Context, cfg *Config, opts ...Option) (*nats.Conn, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := applyOptions(opts...)
	natsOpts := []nats.Option{
		nats.Name(cfg.Source),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				o.logger.Warn("nats disconnected", clog.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			o.logger.Info("nats reconnected", clog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		natsOpts = append(natsOpts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.Join(xerrors.ErrUnavailable, err), "notify: connect %s", cfg.URL)
	}
	o.logger.Info("nats connected", clog.String("url", conn.ConnectedUrl()), clog.String("subject", cfg.Subject))
	return conn, nil
}
