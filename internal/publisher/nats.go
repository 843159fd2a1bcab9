package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"railsight/internal/report"
	"railsight/internal/timetable"
)

const DefaultSubjectPrefix = "railsight.reports"

// NATSPublisher fans report lifecycle events out on
// <prefix>.<direction>.<station>.<kind>. It implements report.Notifier.
type NATSPublisher struct {
	conn        conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	log         *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

type Options struct {
	URL         string
	Prefix      string
	LogSubjects bool
	Metrics     PublisherMetrics
	Logger      *slog.Logger
}

func NewNATSPublisher(o Options) (*NATSPublisher, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	m, log := o.Metrics, o.Logger
	nc, err := nats.Connect(o.URL,
		nats.Name("railsight"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, o), nil
}

func newPublisher(c conn, o Options) *NATSPublisher {
	if o.Prefix == "" {
		o.Prefix = DefaultSubjectPrefix
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &NATSPublisher{conn: c, prefix: o.Prefix, logSubjects: o.LogSubjects, metrics: o.Metrics, log: o.Logger}
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
		p.conn.Close()
	}
}

type EventMessage struct {
	Kind        report.EventKind    `json:"kind"`
	ReportID    string              `json:"reportId"`
	Station     string              `json:"station"`
	Direction   timetable.Direction `json:"direction"`
	DisplayTime string              `json:"displayTime"`
	CreatedAt   time.Time           `json:"createdAt"`
	Upvotes     int                 `json:"upvotes"`
	Downvotes   int                 `json:"downvotes"`
	UserID      string              `json:"userId,omitempty"`
	Vote        report.Vote         `json:"vote,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

func newEventMessage(ev report.Event) EventMessage {
	return EventMessage{
		Kind:        ev.Kind,
		ReportID:    ev.Report.ID,
		Station:     ev.Report.Station,
		Direction:   ev.Report.Direction,
		DisplayTime: ev.Report.DisplayTime,
		CreatedAt:   ev.Report.CreatedAt,
		Upvotes:     ev.Report.Upvotes,
		Downvotes:   ev.Report.Downvotes,
		UserID:      ev.UserID,
		Vote:        ev.Vote,
		Timestamp:   ev.At,
	}
}

func (p *NATSPublisher) Subject(ev report.Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix,
		subjectToken(string(ev.Report.Direction)),
		subjectToken(ev.Report.Station),
		subjectToken(string(ev.Kind)))
}

// Notify publishes ev. Core NATS publishes are fire-and-forget so ctx is only
// checked before sending.
func (p *NATSPublisher) Notify(ctx context.Context, ev report.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := p.Subject(ev)
	b, err := json.Marshal(newEventMessage(ev))
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
