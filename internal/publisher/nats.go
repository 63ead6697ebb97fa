package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"gridtransit/internal/grid"
	"gridtransit/internal/render"
)

// Conn is the slice of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc          Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gridsim"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return New(nc, prefix, logSubjects, m), nil
}

// New wraps an established connection.
func New(nc Conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type PositionMessage struct {
	RunID      string     `json:"runId"`
	VehicleID  int        `json:"vehicleId"`
	Tick       int        `json:"tick"`
	Timestamp  time.Time  `json:"timestamp"`
	Position   grid.Point `json:"position"`
	NextStop   int        `json:"nextStop"`
	Status     string     `json:"status"`
	Moving     bool       `json:"moving"`
	Passengers int        `json:"passengers"`
}

// Render publishes the whole frame, then one position message per vehicle.
// It satisfies render.Renderer.
func (p *NATSPublisher) Render(f render.Frame) error {
	run := subjectToken(f.RunID)
	if err := p.publish(fmt.Sprintf("%s.%s.frame", p.prefix, run), f); err != nil {
		return err
	}
	now := time.Now()
	for _, v := range f.Vehicles {
		pm := PositionMessage{
			RunID:      f.RunID,
			VehicleID:  v.ID,
			Tick:       f.Tick,
			Timestamp:  now,
			Position:   v.Position,
			NextStop:   v.NextStop,
			Status:     v.Status,
			Moving:     v.Moving,
			Passengers: v.Passengers,
		}
		if err := p.publish(fmt.Sprintf("%s.%s.vehicle.%d", p.prefix, run, v.ID), pm); err != nil {
			return err
		}
	}
	return nil
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
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
