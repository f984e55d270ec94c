package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"arbflow/logger"
	"arbflow/models"
)

// KeyPolicy decides which opportunities share one alert window.
type KeyPolicy int

const (
	// KeyByMarketDepth keeps one window per market and depth whatever the route.
	KeyByMarketDepth KeyPolicy = iota
	// KeyByRoute keeps one window per market, depth and venue pair.
	KeyByRoute
)

// EventKind is the transition that produced an event.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventUpgraded EventKind = "upgraded"
	EventEnded    EventKind = "ended"
)

// Title is the notification heading for the event kind.
func (k EventKind) Title() string {
	switch k {
	case EventStarted:
		return "✅ Opportunity started"
	case EventUpgraded:
		return "🔥 Opportunity upgraded"
	case EventEnded:
		return "🛑 Opportunity ended"
	}
	return string(k)
}

// Event is one alert transition.
type Event struct {
	Kind  EventKind
	Alert models.Alert
}

// Notifier delivers alert messages. Delivery failures stay inside the notifier.
type Notifier interface {
	Send(ctx context.Context, title, body string)
}

type Config struct {
	// Threshold is the minimum profit fraction for an opportunity to alert.
	Threshold float64
	// RetriggerThreshold is the profit gain over the recorded max that
	// upgrades an open window.
	RetriggerThreshold float64
	KeyPolicy          KeyPolicy
}

// Engine turns opportunity tables into alert windows. It is driven from the
// coordinator goroutine and is not safe for concurrent use.
type Engine struct {
	cfg      Config
	notifier Notifier
	active   map[string]*models.Alert
	history  []models.Alert
	log      *logger.Entry
}

// NewEngine creates an engine. A nil notifier only records events.
func NewEngine(cfg Config, notifier Notifier) *Engine {
	return &Engine{
		cfg:      cfg,
		notifier: notifier,
		active:   make(map[string]*models.Alert),
		log:      logger.GetLogger().WithComponent("alert_engine"),
	}
}

func (e *Engine) key(o models.Opportunity) string {
	k := fmt.Sprintf("%s @%g", o.Market, o.Quantity)
	if e.cfg.KeyPolicy == KeyByRoute {
		k += fmt.Sprintf(" %s->%s", o.BuyExchange, o.SellExchange)
	}
	return k
}

// candidates returns the best opportunity per key. Iteration is by market
// then depth; the first opportunity seen wins a tie.
func (e *Engine) candidates(table models.OpportunityTable) (map[string]models.Opportunity, []string) {
	best := make(map[string]models.Opportunity)
	var order []string

	markets := make([]string, 0, len(table))
	for market := range table {
		markets = append(markets, market)
	}
	sort.Strings(markets)

	for _, market := range markets {
		depths := make([]float64, 0, len(table[market]))
		for depth := range table[market] {
			depths = append(depths, depth)
		}
		sort.Float64s(depths)

		for _, depth := range depths {
			for _, o := range table[market][depth] {
				if o.Profit() < e.cfg.Threshold {
					continue
				}
				k := e.key(o)
				current, seen := best[k]
				if !seen {
					order = append(order, k)
					best[k] = o
					continue
				}
				if o.Profit() > current.Profit() {
					best[k] = o
				}
			}
		}
	}
	return best, order
}

// ApplyCycle updates the alert windows from one cycle's table and returns
// the transitions in order: ended, started, upgraded.
func (e *Engine) ApplyCycle(ctx context.Context, now time.Time, table models.OpportunityTable) []Event {
	best, order := e.candidates(table)

	var ended, started, upgraded []Event

	endedKeys := make([]string, 0)
	for k := range e.active {
		if _, ok := best[k]; !ok {
			endedKeys = append(endedKeys, k)
		}
	}
	sort.Strings(endedKeys)
	for _, k := range endedKeys {
		a := e.active[k]
		at := now
		a.Ended = &at
		delete(e.active, k)
		e.history = append(e.history, *a)
		ended = append(ended, Event{Kind: EventEnded, Alert: *a})
	}

	for _, k := range order {
		cand := best[k]
		a, ok := e.active[k]
		if !ok {
			a = &models.Alert{
				Key:      k,
				Market:   cand.Market,
				Depth:    cand.Quantity,
				Original: cand,
				Max:      cand,
				Started:  now,
			}
			e.active[k] = a
			started = append(started, Event{Kind: EventStarted, Alert: *a})
			continue
		}
		if cand.Profit()-a.Max.Profit() > e.cfg.RetriggerThreshold {
			a.Max = cand
			upgraded = append(upgraded, Event{Kind: EventUpgraded, Alert: *a})
		}
	}

	events := make([]Event, 0, len(ended)+len(started)+len(upgraded))
	events = append(events, ended...)
	events = append(events, started...)
	events = append(events, upgraded...)

	for _, ev := range events {
		e.log.WithFields(logger.Fields{
			"event":   string(ev.Kind),
			"key":     ev.Alert.Key,
			"buy":     ev.Alert.Max.BuyExchange,
			"sell":    ev.Alert.Max.SellExchange,
			"profit":  ev.Alert.Max.Profit(),
			"started": ev.Alert.Started,
		}).Info("alert transition")
		if e.notifier != nil {
			e.notifier.Send(ctx, ev.Kind.Title(), ev.Alert.Text())
		}
	}
	return events
}

// Active returns the open windows sorted by key.
func (e *Engine) Active() []models.Alert {
	keys := make([]string, 0, len(e.active))
	for k := range e.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Alert, 0, len(keys))
	for _, k := range keys {
		out = append(out, *e.active[k])
	}
	return out
}

// DrainHistory returns and clears the closed windows.
func (e *Engine) DrainHistory() []models.Alert {
	out := e.history
	e.history = nil
	return out
}
